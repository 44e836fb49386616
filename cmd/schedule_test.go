package cmd

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStopAndWaitWaitsForImmediateRun(t *testing.T) {
	cl := cronLogger{s: zap.NewNop().Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	started := make(chan struct{})
	var finished atomic.Bool
	id, err := c.AddFunc("@every 1h", func() {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})
	require.NoError(t, err)
	c.Start()

	var wg sync.WaitGroup
	runNow(&wg, c.Entry(id).WrappedJob)
	<-started

	stopAndWait(c, &wg)
	assert.True(t, finished.Load())
}

func TestStopAndWaitWithoutImmediateRun(t *testing.T) {
	c := cron.New()
	c.Start()

	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		stopAndWait(c, &wg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stopAndWait blocked with nothing running")
	}
}

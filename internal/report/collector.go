package report

// Outcome is what a worker reports for one URL.
type Outcome struct {
	URL           string
	Stage         string
	Err           error
	Products      int
	AlternateSKUs int
}

// Collect drains results into rep until the channel is closed. It must be the
// only writer of rep; workers never touch the report directly.
func Collect(results <-chan Outcome, rep *Ingestion) {
	for o := range results {
		rep.Products += o.Products
		rep.AlternateSKUs += o.AlternateSKUs
		if o.Err != nil {
			rep.Failures = append(rep.Failures, Failure{URL: o.URL, Stage: o.Stage, Error: o.Err.Error()})
			continue
		}
		rep.Succeeded++
	}
}

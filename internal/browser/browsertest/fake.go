// Package browsertest provides scriptable in-memory fakes of browser.Browser
// and browser.Page for pipeline tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
)

// ScriptFunc answers an in-page evaluation for the page's current URL.
type ScriptFunc func(url string, args []any) (any, error)

// Page is a fake browser.Page. Results are keyed by the page's current URL
// so one fake can stand in for a whole site.
type Page struct {
	mu sync.Mutex

	// NavigateFunc overrides navigation. Returning an error fails the navigation.
	NavigateFunc func(url string) error
	// Attributes maps url -> "selector@name" -> value.
	Attributes map[string]map[string]string
	// Texts maps url -> selector -> text.
	Texts map[string]map[string]string
	// Present maps url -> selector -> present, answering WaitFor.
	Present map[string]map[string]bool
	// Scripts answers Evaluate by Script.Name.
	Scripts map[string]ScriptFunc

	current     string
	navigations []string
	evaluations []string
	closed      bool
}

var _ browser.Page = (*Page)(nil)

// NewPage returns an empty fake page.
func NewPage() *Page {
	return &Page{
		Attributes: make(map[string]map[string]string),
		Texts:      make(map[string]map[string]string),
		Present:    make(map[string]map[string]bool),
		Scripts:    make(map[string]ScriptFunc),
	}
}

// SetAttribute registers an attribute value for url.
func (p *Page) SetAttribute(url, selector, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Attributes[url] == nil {
		p.Attributes[url] = make(map[string]string)
	}
	p.Attributes[url][selector+"@"+name] = value
}

// SetText registers text content for url.
func (p *Page) SetText(url, selector, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Texts[url] == nil {
		p.Texts[url] = make(map[string]string)
	}
	p.Texts[url][selector] = value
}

// SetPresent marks selector as present on url.
func (p *Page) SetPresent(url, selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Present[url] == nil {
		p.Present[url] = make(map[string]bool)
	}
	p.Present[url][selector] = true
}

// Handle registers a script handler by name.
func (p *Page) Handle(name string, fn ScriptFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scripts[name] = fn
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrPageClosed
	}
	p.navigations = append(p.navigations, url)
	fn := p.NavigateFunc
	p.mu.Unlock()
	if fn != nil {
		if err := fn(url); err != nil {
			return fmt.Errorf("%w: %w", browser.ErrNavigation, err)
		}
	}
	p.mu.Lock()
	p.current = url
	p.mu.Unlock()
	return nil
}

func (p *Page) Attribute(_ context.Context, selector, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", false, browser.ErrPageClosed
	}
	v := p.Attributes[p.current][selector+"@"+name]
	return v, v != "", nil
}

func (p *Page) Text(_ context.Context, selector string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", false, browser.ErrPageClosed
	}
	v := p.Texts[p.current][selector]
	return v, v != "", nil
}

// Evaluate round-trips the handler result through JSON, like the real driver.
func (p *Page) Evaluate(_ context.Context, script browser.Script, out any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrPageClosed
	}
	fn, ok := p.Scripts[script.Name]
	url := p.current
	p.evaluations = append(p.evaluations, script.Name)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("evaluate %s: no handler registered", script.Name)
	}
	res, err := fn(url, script.Args)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", script.Name, err)
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", script.Name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", script.Name, err)
	}
	return nil
}

func (p *Page) WaitFor(ctx context.Context, selector string, _ time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, browser.ErrPageClosed
	}
	return p.Present[p.current][selector], nil
}

func (p *Page) WaitIdle(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Navigations lists every URL passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Evaluations lists the names of every evaluated script.
func (p *Page) Evaluations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evaluations...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Browser is a fake browser.Browser that hands out pages from Factory.
type Browser struct {
	mu sync.Mutex
	// Factory builds each page. It may return an error such as browser.ErrBrowserClosed.
	Factory func() (browser.Page, error)
	pages   []browser.Page
	closed  bool
}

var _ browser.Browser = (*Browser)(nil)

// NewBrowser returns a Browser whose pages all come from factory.
func NewBrowser(factory func() (browser.Page, error)) *Browser {
	return &Browser{Factory: factory}
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, browser.ErrBrowserClosed
	}
	factory := b.Factory
	b.mu.Unlock()
	page, err := factory()
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.pages = append(b.pages, page)
	b.mu.Unlock()
	return page, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Pages returns every page handed out so far.
func (b *Browser) Pages() []browser.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]browser.Page(nil), b.pages...)
}

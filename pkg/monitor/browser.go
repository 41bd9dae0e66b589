package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
)

// Browser is the set of protocol commands the event handlers issue.
type Browser interface {
	ContinueRequest(ctx context.Context, id fetch.RequestID) error
	ResponseBody(ctx context.Context, id fetch.RequestID) ([]byte, error)
	RequestPostData(ctx context.Context, id network.RequestID) (string, error)
	ScriptSource(ctx context.Context, id runtime.ScriptID) (string, error)
	Evaluate(ctx context.Context, expression string) (string, error)
	WorkerScript(ctx context.Context, scriptURL string) (string, error)
}

var errNotAttached = errors.New("browser target not attached")

// cdpBrowser issues commands on the tab owned by a chromedp context.
type cdpBrowser struct {
	tab context.Context
}

// executor binds ctx to the tab's target so commands honor the caller's
// cancellation instead of the tab lifetime.
func (b *cdpBrowser) executor(ctx context.Context) (context.Context, error) {
	c := chromedp.FromContext(b.tab)
	if c == nil || c.Target == nil {
		return nil, errNotAttached
	}
	return cdp.WithExecutor(ctx, c.Target), nil
}

func (b *cdpBrowser) ContinueRequest(ctx context.Context, id fetch.RequestID) error {
	ectx, err := b.executor(ctx)
	if err != nil {
		return err
	}
	return fetch.ContinueRequest(id).Do(ectx)
}

func (b *cdpBrowser) ResponseBody(ctx context.Context, id fetch.RequestID) ([]byte, error) {
	ectx, err := b.executor(ctx)
	if err != nil {
		return nil, err
	}
	return fetch.GetResponseBody(id).Do(ectx)
}

func (b *cdpBrowser) RequestPostData(ctx context.Context, id network.RequestID) (string, error) {
	ectx, err := b.executor(ctx)
	if err != nil {
		return "", err
	}
	return network.GetRequestPostData(id).Do(ectx)
}

func (b *cdpBrowser) ScriptSource(ctx context.Context, id runtime.ScriptID) (string, error) {
	ectx, err := b.executor(ctx)
	if err != nil {
		return "", err
	}
	source, _, err := debugger.GetScriptSource(id).Do(ectx)
	return source, err
}

func (b *cdpBrowser) Evaluate(ctx context.Context, expression string) (string, error) {
	ectx, err := b.executor(ctx)
	if err != nil {
		return "", err
	}
	res, exc, err := runtime.Evaluate(expression).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		Do(ectx)
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", fmt.Errorf("evaluation threw: %s", exc.Text)
	}
	return remoteValue(res), nil
}

// WorkerScript downloads a service worker script from inside the page so
// the request carries the page's cookies and origin.
func (b *cdpBrowser) WorkerScript(ctx context.Context, scriptURL string) (string, error) {
	expr := fmt.Sprintf("fetch(%s).then(r => r.text())", strconv.Quote(scriptURL))
	return b.Evaluate(ctx, expr)
}

// remoteValue renders a remote object as text: strings unquoted, other
// by-value results as JSON, everything else by description.
func remoteValue(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		var s string
		if err := jsoniter.Unmarshal(obj.Value, &s); err == nil {
			return s
		}
		if string(obj.Value) == "null" {
			return ""
		}
		return string(obj.Value)
	}
	return obj.Description
}

package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	callTimeout  = 30 * time.Second
	maxMessageKB = 16 * 1024
)

// notificationMarker prefixes console calls emitted by the Notification shim
// injected into every page, so the event loop can tell them apart from
// ordinary page logging.
const notificationMarker = "__promptdeck_notification__"

// notificationShim wraps window.Notification so host-level notifications
// become observable console events. Injected before any page script runs.
const notificationShim = `(() => {
	const Original = window.Notification;
	if (!Original) { return; }
	const Wrapped = function(title, options) {
		try {
			console.debug("` + notificationMarker + `", String(title || ""), String((options && options.body) || ""));
		} catch (e) {}
		return new Original(title, options);
	};
	Wrapped.requestPermission = Original.requestPermission.bind(Original);
	Object.defineProperty(Wrapped, "permission", { get: () => Original.permission });
	window.Notification = Wrapped;
})();`

// cdpClient is a minimal Chrome DevTools Protocol client for a single page
// target: request/response calls plus the few events the surface cares
// about (load finished, console-relayed notifications).
type cdpClient struct {
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan cdpMessage

	loadMu      sync.Mutex
	loadWaiters []chan error

	notifications chan Notification
	done          chan struct{}
	closeOnce     sync.Once
}

type cdpMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// pageTarget is one entry of the DevTools /json/list endpoint.
type pageTarget struct {
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// dialCDP attaches to the first page target exposed at debugBase
// (e.g. http://172.28.0.2:9222) and prepares the Page/Runtime domains.
func dialCDP(ctx context.Context, debugBase string) (*cdpClient, error) {
	wsURL, err := pageDebuggerURL(ctx, debugBase)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools socket: %w", err)
	}
	conn.SetReadLimit(maxMessageKB * 1024)

	c := &cdpClient{
		conn:          conn,
		pending:       make(map[int64]chan cdpMessage),
		notifications: make(chan Notification, 16),
		done:          make(chan struct{}),
	}
	go c.readLoop()

	for _, setup := range []struct {
		method string
		params any
	}{
		{"Page.enable", nil},
		{"Runtime.enable", nil},
		{"Page.addScriptToEvaluateOnNewDocument", map[string]string{"source": notificationShim}},
	} {
		if _, err := c.call(ctx, setup.method, setup.params); err != nil {
			c.close()
			return nil, fmt.Errorf("enable %s: %w", setup.method, err)
		}
	}

	return c, nil
}

func pageDebuggerURL(ctx context.Context, debugBase string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, debugBase+"/json/list", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("list devtools targets: %w", err)
	}
	defer resp.Body.Close()

	var targets []pageTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode devtools targets: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("no page target exposed at %s", debugBase)
}

// call issues one request and waits for its response.
func (c *cdpClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan cdpMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, c.conn, cdpRequest{ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, fmt.Errorf("%s: %s (code %d)", method, msg.Error.Message, msg.Error.Code)
		}
		return msg.Result, nil
	case <-c.done:
		return nil, fmt.Errorf("%s: devtools connection closed", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// watchLoad registers a oneshot waiter for the next load-finished signal.
func (c *cdpClient) watchLoad() <-chan error {
	ch := make(chan error, 1)
	c.loadMu.Lock()
	c.loadWaiters = append(c.loadWaiters, ch)
	c.loadMu.Unlock()
	return ch
}

// resolveLoad delivers the load outcome to every registered waiter.
func (c *cdpClient) resolveLoad(err error) {
	c.loadMu.Lock()
	waiters := c.loadWaiters
	c.loadWaiters = nil
	c.loadMu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
}

func (c *cdpClient) readLoop() {
	defer c.close()

	for {
		var msg cdpMessage
		if err := wsjson.Read(context.Background(), c.conn, &msg); err != nil {
			select {
			case <-c.done:
			default:
				slog.Debug("DevTools read loop ended", "error", err)
			}
			return
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch := c.pending[msg.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
			continue
		}

		switch msg.Method {
		case "Page.loadEventFired":
			c.resolveLoad(nil)
		case "Runtime.consoleAPICalled":
			c.handleConsoleEvent(msg.Params)
		}
	}
}

// handleConsoleEvent relays console calls produced by the notification shim.
func (c *cdpClient) handleConsoleEvent(params json.RawMessage) {
	var ev struct {
		Type string `json:"type"`
		Args []struct {
			Value any `json:"value"`
		} `json:"args"`
	}
	if err := json.Unmarshal(params, &ev); err != nil || len(ev.Args) < 1 {
		return
	}
	marker, _ := ev.Args[0].Value.(string)
	if marker != notificationMarker {
		return
	}

	var n Notification
	if len(ev.Args) > 1 {
		n.Title, _ = ev.Args[1].Value.(string)
	}
	if len(ev.Args) > 2 {
		n.Body, _ = ev.Args[2].Value.(string)
	}

	select {
	case c.notifications <- n:
	default:
		slog.Warn("Dropping notification, buffer full", "title", n.Title)
	}
}

// navigate issues Page.navigate. A rejected navigation resolves pending load
// waiters with the error so the oneshot channel never leaks.
func (c *cdpClient) navigate(ctx context.Context, url string) error {
	result, err := c.call(ctx, "Page.navigate", map[string]string{"url": url})
	if err != nil {
		c.resolveLoad(err)
		return err
	}

	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(result, &nav); err == nil && nav.ErrorText != "" {
		navErr := fmt.Errorf("navigation rejected: %s", nav.ErrorText)
		c.resolveLoad(navErr)
		return navErr
	}
	return nil
}

// evaluate runs a JavaScript expression and returns its value as a string.
func (c *cdpClient) evaluate(ctx context.Context, expression string) (string, error) {
	result, err := c.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}

	var eval struct {
		Result struct {
			Value any `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &eval); err != nil {
		return "", fmt.Errorf("decode evaluate result: %w", err)
	}
	if eval.ExceptionDetails != nil {
		return "", fmt.Errorf("script exception: %s", eval.ExceptionDetails.Text)
	}

	switch v := eval.Result.Value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// setLifecycleState freezes or resumes the page.
func (c *cdpClient) setLifecycleState(ctx context.Context, visible bool) error {
	state := "frozen"
	if visible {
		state = "active"
	}
	_, err := c.call(ctx, "Page.setWebLifecycleState", map[string]string{"state": state})
	return err
}

func (c *cdpClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.notifications)
		c.resolveLoad(fmt.Errorf("surface closed"))
		_ = c.conn.Close(websocket.StatusNormalClosure, "surface released")
	})
}

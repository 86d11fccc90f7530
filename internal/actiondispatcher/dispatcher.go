// Package actiondispatcher consumes action strings pushed by ingestors and
// routes them to built-in handlers by their leading verb. This package only
// recognizes the fixed set of structured verbs and wires in no external
// routing agent: a free-text action is passed whole to print_to_user.
package actiondispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Result is what every handler returns.
type Result struct {
	Status  string `json:"status"` // "success" or "error"
	Message string `json:"message,omitempty"`
}

// Handler executes one verb against a raw action payload (the text after
// the verb, if any) and returns a Result. Never returns an error itself —
// failures are reported inside Result so a bad webhook never crashes the
// ingestor's action worker.
type Handler func(ctx context.Context, payload string) Result

// Credentials holds the external-service secrets handlers need. Populated
// by the caller from environment variables (TELEGRAM_BOT_TOKEN,
// DISCORD_WEBHOOK_URL, and the SMTP_* / EMAIL_* pair), never read directly
// from the environment by this package.
type Credentials struct {
	SMTPAddr     string // host:port
	SMTPUser     string
	SMTPPass     string
	EmailFrom    string
	EmailTo      string
	TelegramBot  string
	TelegramChat string
	DiscordHook  string
}

// Registry maps a verb name to its Handler, following the teacher's
// adapters.Registry/Register/GetAdapter pattern repurposed for action verbs
// instead of NVR vendor adapters.
type Registry struct {
	handlers map[string]Handler
	log      *log.Logger

	// dedupe suppresses repeated identical (verb, payload) actions fired
	// inside the same window, mirroring the teacher's EventDedup for NVR
	// events.
	dedupe *lru.Cache[string, time.Time]
	window time.Duration
}

// New builds a Registry with every built-in verb registered. window bounds
// how long an identical action is suppressed after first firing; pass 0 to
// disable suppression.
func New(creds Credentials, httpClient *http.Client, window time.Duration) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	dedupe, _ := lru.New[string, time.Time](256)

	r := &Registry{
		handlers: make(map[string]Handler),
		log:      log.New(log.Writer(), "[ActionDispatcher] ", log.LstdFlags),
		dedupe:   dedupe,
		window:   window,
	}

	r.Register("send_email", emailHandler(creds))
	r.Register("send_discord_notification", discordHandler(creds, httpClient))
	r.Register("send_telegram_notification", telegramHandler(creds, httpClient))
	r.Register("open_door", doorHandler("open"))
	r.Register("close_door", doorHandler("close"))
	r.Register("turn_on_light", lightHandler("on"))
	r.Register("turn_off_light", lightHandler("off"))
	r.Register("print_to_user", printHandler(r.log))

	return r
}

// Register adds or replaces the handler for verb.
func (r *Registry) Register(verb string, h Handler) {
	r.handlers[verb] = h
}

// Dispatch parses action as "verb payload" (verb is the first
// whitespace-delimited token, payload is the rest), finds the matching
// handler, and runs it. An unrecognized verb is treated as a free-text
// action: it gets routed to print_to_user as the safe fallback since no
// external routing agent is wired into this engine.
func (r *Registry) Dispatch(ctx context.Context, action string) error {
	verb, payload := splitVerb(action)

	if r.suppressed(verb, payload) {
		r.log.Printf("suppressed duplicate action %q within window", action)
		return nil
	}

	h, ok := r.handlers[verb]
	if !ok {
		h = r.handlers["print_to_user"]
		payload = action
	}

	res := h(ctx, payload)
	if res.Status != "success" {
		r.log.Printf("action %q failed: %s", action, res.Message)
	}
	return nil
}

func (r *Registry) suppressed(verb, payload string) bool {
	if r.window <= 0 || r.dedupe == nil {
		return false
	}
	key := verb + "|" + payload
	if addedAt, ok := r.dedupe.Get(key); ok && time.Since(addedAt) < r.window {
		return true
	}
	r.dedupe.Add(key, time.Now())
	return false
}

func splitVerb(action string) (verb, payload string) {
	action = strings.TrimSpace(action)
	idx := strings.IndexByte(action, ' ')
	if idx < 0 {
		return action, ""
	}
	return action[:idx], strings.TrimSpace(action[idx+1:])
}

func success(msg string) Result { return Result{Status: "success", Message: msg} }
func fail(msg string) Result    { return Result{Status: "error", Message: msg} }

func emailHandler(creds Credentials) Handler {
	return func(ctx context.Context, payload string) Result {
		if creds.SMTPAddr == "" || creds.EmailTo == "" {
			return fail("email not configured")
		}
		var auth smtp.Auth
		if creds.SMTPUser != "" {
			host := creds.SMTPAddr
			if idx := strings.IndexByte(host, ':'); idx >= 0 {
				host = host[:idx]
			}
			auth = smtp.PlainAuth("", creds.SMTPUser, creds.SMTPPass, host)
		}
		msg := fmt.Sprintf("Subject: vms-watch alert\r\n\r\n%s\r\n", payload)
		if err := smtp.SendMail(creds.SMTPAddr, auth, creds.EmailFrom, []string{creds.EmailTo}, []byte(msg)); err != nil {
			return fail(fmt.Sprintf("smtp send: %v", err))
		}
		return success("email sent")
	}
}

func discordHandler(creds Credentials, client *http.Client) Handler {
	return func(ctx context.Context, payload string) Result {
		if creds.DiscordHook == "" {
			return fail("discord webhook not configured")
		}
		return postJSON(ctx, client, creds.DiscordHook, map[string]string{"content": payload})
	}
}

func telegramHandler(creds Credentials, client *http.Client) Handler {
	return func(ctx context.Context, payload string) Result {
		if creds.TelegramBot == "" || creds.TelegramChat == "" {
			return fail("telegram not configured")
		}
		url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", creds.TelegramBot)
		return postJSON(ctx, client, url, map[string]string{"chat_id": creds.TelegramChat, "text": payload})
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, body map[string]string) Result {
	buf, err := json.Marshal(body)
	if err != nil {
		return fail(fmt.Sprintf("encode payload: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(buf)))
	if err != nil {
		return fail(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fail(fmt.Sprintf("post: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fail(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return success("delivered")
}

// doorHandler and lightHandler mock hardware actuation: no physical door or
// light is wired to this engine, so they only log the intent and report
// success, matching the spec's "no critical side effects beyond the mock of
// hardware" contract.
func doorHandler(state string) Handler {
	return func(ctx context.Context, payload string) Result {
		return success(fmt.Sprintf("door %s", state))
	}
}

func lightHandler(state string) Handler {
	return func(ctx context.Context, payload string) Result {
		return success(fmt.Sprintf("light %s", state))
	}
}

func printHandler(l *log.Logger) Handler {
	return func(ctx context.Context, payload string) Result {
		l.Printf("print_to_user: %s", payload)
		return success("printed")
	}
}

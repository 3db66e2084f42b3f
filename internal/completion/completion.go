// Package completion continues the user's prose at the cursor: it reads the
// text around the anchor, asks a completion endpoint for more and splices the
// answer back into the document.
package completion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"go.uber.org/zap"

	"scribe/api/internal/document"
	"scribe/api/internal/state"
)

type Result int

const (
	Success Result = iota + 1
	Empty
	Error
	AlreadyGenerating
	TooShort
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Empty:
		return "empty"
	case Error:
		return "error"
	case AlreadyGenerating:
		return "already_generating"
	case TooShort:
		return "too_short"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// MinWords is the least number of words before the cursor worth completing.
const MinWords = 4

// Roughly 1000 tokens per 750 words.
const tokensPerWord = 1.33

const (
	MsgTooShort     = "AI completion works best if you write more."
	MsgGenerating   = "Generating text..."
	MsgOutOfQuota   = "You've run out of requests for today. Sign up for OpenAI and add your API key in Settings."
	MsgEmpty        = "The AI didn't have anything to say. Try writing a bit more."
	msgStatusFormat = "Error talking to OpenAI (%d). Check the server logs for more info."
)

// Editor is the part of a document session the routine drives. The insert
// methods write at an explicit position and move the cursor after the
// inserted text.
type Editor interface {
	Anchor() int
	SetAnchor(pos int) error
	ContentSize() int
	TextBetween(from, to int) string
	SetEditable(editable bool)
	InsertTextAt(pos int, text string) (int, error)
	InsertParagraphsAt(pos int, texts []string) (int, error)
}

// Store is the slice of profile state read and updated per completion.
type Store interface {
	Settings() state.Settings
	User() state.User
	AddTokensUsed(ctx context.Context, n int) error
	SetRemainingCompletions(ctx context.Context, n int) error
}

// Completer runs one completion at a time. Calls made while one is in
// flight return AlreadyGenerating without touching anything.
type Completer struct {
	proxy  Endpoint
	direct Endpoint
	store  Store
	logger *zap.Logger

	generating atomic.Bool
}

// NewCompleter builds a Completer. proxy serves profiles without their own
// API key; direct is called with the user's key otherwise.
func NewCompleter(proxy, direct Endpoint, store Store, logger *zap.Logger) *Completer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Completer{proxy: proxy, direct: direct, store: store, logger: logger}
}

// Generating reports whether a completion is in flight.
func (c *Completer) Generating() bool {
	return c.generating.Load()
}

// Complete continues the text at the editor's cursor.
func (c *Completer) Complete(ctx context.Context, editor Editor, notify Notifier) Result {
	result, _ := c.complete(ctx, editor, nil, notify)
	return result
}

// CompleteAt moves the cursor to pos and continues the text there. The
// cursor only moves once this call owns the completion, so a call refused
// with AlreadyGenerating leaves it alone. An invalid pos returns Error and
// the positioning error.
func (c *Completer) CompleteAt(ctx context.Context, editor Editor, pos int, notify Notifier) (Result, error) {
	return c.complete(ctx, editor, &pos, notify)
}

func (c *Completer) complete(ctx context.Context, editor Editor, anchor *int, notify Notifier) (Result, error) {
	if !c.generating.CompareAndSwap(false, true) {
		c.logger.Info("refusing completion, already generating")
		return AlreadyGenerating, nil
	}
	defer c.generating.Store(false)

	// Client writes are refused until the completion has been inserted.
	editor.SetEditable(false)
	defer editor.SetEditable(true)

	if anchor != nil {
		if err := editor.SetAnchor(*anchor); err != nil {
			return Error, err
		}
	}

	settings := c.store.Settings()
	user := c.store.User()

	pos := editor.Anchor()
	start := 0
	if settings.LookbackChars > 0 {
		start = max(0, pos-settings.LookbackChars)
	}
	before := editor.TextBetween(start, pos)
	trimmed := strings.TrimSpace(before)
	if trimmed == "" || Words(trimmed) < MinWords {
		notify.Error(MsgTooShort)
		return TooShort, nil
	}
	after := editor.TextBetween(pos, editor.ContentSize())

	dismiss := notify.Loading(MsgGenerating)
	resp, err := c.request(ctx, settings, user, before, after)
	dismiss()

	if resp.RateLimitRemaining != nil {
		if err := c.store.SetRemainingCompletions(ctx, *resp.RateLimitRemaining); err != nil {
			c.logger.Warn("failed to store remaining completions", zap.Error(err))
		}
	}
	if err != nil {
		c.logger.Error("completion request failed", zap.Error(err))
		notify.Error(errorMessage(err))
		return Error, nil
	}

	text := resp.Text
	if strings.TrimSpace(text) == "" {
		notify.Error(MsgEmpty)
		return Empty, nil
	}

	if err := insert(editor, pos, before, text); err != nil {
		c.logger.Error("failed to insert completion", zap.Int("anchor", pos), zap.Error(err))
		notify.Error(err.Error())
		return Error, nil
	}

	used := Tokens(before) + Tokens(text)
	if err := c.store.AddTokensUsed(ctx, used); err != nil {
		c.logger.Warn("failed to store token usage", zap.Int("tokens", used), zap.Error(err))
	}
	return Success, nil
}

func (c *Completer) request(ctx context.Context, settings state.Settings, user state.User, before, after string) (Response, error) {
	req := Request{
		Prompt:          strings.TrimSpace(before),
		MaxTokens:       settings.MaxTokens,
		Temperature:     settings.Temperature,
		BestOf:          1,
		PresencePenalty: 0,
		User:            user.UUID,
	}
	if strings.TrimSpace(after) != "" {
		req.Suffix = after
	}

	endpoint, apiKey := c.proxy, ""
	if settings.HasAPIKey() {
		endpoint, apiKey = c.direct, settings.APIKey
	}
	if endpoint == nil {
		return Response{}, errors.New("no completion endpoint configured")
	}
	return endpoint.Complete(ctx, apiKey, req)
}

// insert splices text in at pos. The first paragraph joins the current one
// unless pos or the completion starts on a new line.
func insert(editor Editor, pos int, before, text string) error {
	paragraphs := strings.Split(strings.TrimSpace(text), "\n\n")
	if !strings.HasSuffix(before, " ") && !strings.HasSuffix(before, "\n") {
		paragraphs[0] = " " + paragraphs[0]
	}

	if !strings.HasSuffix(before, "\n") && !strings.HasPrefix(text, "\n") {
		next, err := editor.InsertTextAt(pos, paragraphs[0])
		switch {
		case err == nil:
			pos = next
			paragraphs = paragraphs[1:]
		case errors.Is(err, document.ErrInvalidPosition):
			paragraphs[0] = strings.TrimLeft(paragraphs[0], " ")
		default:
			return err
		}
	}
	_, err := editor.InsertParagraphsAt(pos, paragraphs)
	return err
}

func errorMessage(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == 429 {
			return MsgOutOfQuota
		}
		return fmt.Sprintf(msgStatusFormat, statusErr.StatusCode)
	}
	return err.Error()
}

// Words counts the pieces s splits into on single whitespace characters, so
// runs of whitespace count empty words in between.
func Words(s string) int {
	n := 1
	for _, r := range s {
		if unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Tokens approximates how many tokens s costs.
func Tokens(s string) int {
	return int(math.Floor(float64(Words(s))*tokensPerWord + 0.5))
}

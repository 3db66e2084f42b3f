package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"scribe/api/internal/secret"
)

// Options configure how a Profile persists itself.
type Options struct {
	// Box seals the API key before it is written. Nil stores it as-is.
	Box *secret.Box
	// DocumentDebounce delays document writes. Zero writes on every save.
	DocumentDebounce time.Duration
	// OnDocumentSaved runs after each document write that reached the KV.
	OnDocumentSaved func(ctx context.Context, profileID string, doc json.RawMessage)
	Logger          *zap.Logger
}

type documentBlob struct {
	Content json.RawMessage `json:"content"`
}

// Profile groups the four stores of one browser profile. Settings, stats and
// user writes are persisted immediately; document writes are debounced.
type Profile struct {
	id     string
	kv     KV
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	settings Settings
	stats    Stats
	user     User
	doc      json.RawMessage
	docDirty bool

	debounced func(func())
}

// Create initialises a new profile with defaults and a fresh user UUID.
func Create(ctx context.Context, kv KV, id string, opts Options) (*Profile, error) {
	p := newProfile(kv, id, opts)
	p.settings = DefaultSettings()
	p.user = User{UUID: uuid.NewString(), RemainingCompletions: -1}

	if err := p.put(ctx, KeyUser, p.user); err != nil {
		return nil, err
	}
	if err := p.saveSettings(ctx, p.settings); err != nil {
		return nil, err
	}
	if err := p.put(ctx, KeyStats, p.stats); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads an existing profile. A profile exists once its user record
// does; other stores fall back to defaults when missing or unreadable.
func Load(ctx context.Context, kv KV, id string, opts Options) (*Profile, error) {
	p := newProfile(kv, id, opts)

	raw, err := kv.Get(ctx, id, KeyUser)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &p.user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}

	p.settings = DefaultSettings()
	if raw, err := p.get(ctx, KeySettings); err != nil {
		return nil, err
	} else if raw != nil {
		var stored Settings
		if err := json.Unmarshal(raw, &stored); err != nil {
			p.logger.Warn("discarding unreadable settings", zap.String("profile", id), zap.Error(err))
		} else {
			p.settings = p.openSettings(stored)
		}
	}

	if raw, err := p.get(ctx, KeyStats); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &p.stats); err != nil {
			p.logger.Warn("discarding unreadable stats", zap.String("profile", id), zap.Error(err))
			p.stats = Stats{}
		}
	}

	if raw, err := p.get(ctx, KeyDocument); err != nil {
		return nil, err
	} else if raw != nil {
		var blob documentBlob
		if err := json.Unmarshal(raw, &blob); err != nil {
			p.logger.Warn("discarding unreadable document", zap.String("profile", id), zap.Error(err))
		} else if string(blob.Content) != "null" {
			p.doc = blob.Content
		}
	}
	return p, nil
}

func newProfile(kv KV, id string, opts Options) *Profile {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Profile{id: id, kv: kv, opts: opts, logger: logger}
	if opts.DocumentDebounce > 0 {
		p.debounced = debounce.New(opts.DocumentDebounce)
	}
	return p
}

func (p *Profile) ID() string { return p.id }

func (p *Profile) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// UpdateSettings applies patch, validates the result and persists it. An
// invalid patch leaves the stored settings untouched.
func (p *Profile) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := patch.apply(p.settings)
	if next.APIKey == "" {
		next.APIKey = PlaceholderAPIKey
	}
	if err := next.Validate(); err != nil {
		return p.settings, err
	}
	if err := p.saveSettings(ctx, next); err != nil {
		return p.settings, err
	}
	p.settings = next
	return next, nil
}

func (p *Profile) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Profile) AddTokensUsed(ctx context.Context, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.stats
	next.TokensUsed += n
	if err := p.put(ctx, KeyStats, next); err != nil {
		return err
	}
	p.stats = next
	return nil
}

func (p *Profile) User() User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

func (p *Profile) SetRemainingCompletions(ctx context.Context, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.user
	next.RemainingCompletions = n
	if err := p.put(ctx, KeyUser, next); err != nil {
		return err
	}
	p.user = next
	return nil
}

// Document returns the last saved document JSON, or nil for a new profile.
func (p *Profile) Document() json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil
	}
	return append(json.RawMessage(nil), p.doc...)
}

// SaveDocument records doc and schedules a write. Without a debounce the
// write happens before SaveDocument returns; otherwise write errors are
// logged and the document stays pending for the next Flush.
func (p *Profile) SaveDocument(ctx context.Context, doc json.RawMessage) error {
	p.mu.Lock()
	p.doc = append(json.RawMessage(nil), doc...)
	p.docDirty = true
	p.mu.Unlock()

	if p.debounced == nil {
		return p.Flush(ctx)
	}
	p.debounced(func() {
		if err := p.Flush(context.Background()); err != nil {
			p.logger.Error("document save failed", zap.String("profile", p.id), zap.Error(err))
		}
	})
	return nil
}

// Flush writes a pending document immediately.
func (p *Profile) Flush(ctx context.Context) error {
	p.mu.Lock()
	if !p.docDirty {
		p.mu.Unlock()
		return nil
	}
	doc := p.doc
	p.docDirty = false
	err := p.put(ctx, KeyDocument, documentBlob{Content: doc})
	if err != nil {
		p.docDirty = true
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}

	if p.opts.OnDocumentSaved != nil {
		p.opts.OnDocumentSaved(ctx, p.id, doc)
	}
	return nil
}

func (p *Profile) saveSettings(ctx context.Context, s Settings) error {
	if p.opts.Box != nil && s.HasAPIKey() {
		sealed, err := p.opts.Box.Seal(s.APIKey)
		if err != nil {
			return fmt.Errorf("seal api key: %w", err)
		}
		s.APIKey = sealed
	}
	return p.put(ctx, KeySettings, s)
}

func (p *Profile) openSettings(s Settings) Settings {
	if !secret.IsSealed(s.APIKey) {
		return s
	}
	if p.opts.Box == nil {
		p.logger.Warn("sealed api key found but no secret key configured", zap.String("profile", p.id))
		s.APIKey = PlaceholderAPIKey
		return s
	}
	key, err := p.opts.Box.Open(s.APIKey)
	if err != nil {
		p.logger.Warn("dropping api key that cannot be opened", zap.String("profile", p.id), zap.Error(err))
		key = PlaceholderAPIKey
	}
	s.APIKey = key
	return s
}

func (p *Profile) get(ctx context.Context, key string) ([]byte, error) {
	raw, err := p.kv.Get(ctx, p.id, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return raw, nil
}

func (p *Profile) put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.kv.Set(ctx, p.id, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

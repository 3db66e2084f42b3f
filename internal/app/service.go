package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scribe/api/internal/auth"
	"scribe/api/internal/completion"
	"scribe/api/internal/config"
	"scribe/api/internal/document"
	"scribe/api/internal/export"
	"scribe/api/internal/history"
	"scribe/api/internal/secret"
	"scribe/api/internal/state"
)

type ProfileSession struct {
	ProfileID string     `json:"profileId"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	User      state.User `json:"user"`
}

type StatsView struct {
	TokensUsed   int     `json:"tokensUsed"`
	CostEstimate float64 `json:"costEstimate"`
}

type DocumentView struct {
	Doc        document.Node `json:"doc"`
	Anchor     int           `json:"anchor"`
	Editable   bool          `json:"editable"`
	Generating bool          `json:"generating"`
}

type CompletionOutcome struct {
	Result        string                    `json:"result"`
	Notifications []completion.Notification `json:"notifications"`
	Document      DocumentView              `json:"document"`
	Stats         StatsView                 `json:"stats"`
	User          state.User                `json:"user"`
}

type ExportOutcome struct {
	Result *export.Result
	Upload *export.Upload
}

type historyStore interface {
	Snapshot(profileID string, doc json.RawMessage, message string) (history.Commit, bool, error)
	List(profileID string, limit int) ([]history.Commit, error)
	Get(profileID, hash string) (history.Commit, json.RawMessage, error)
}

type uploader interface {
	Put(ctx context.Context, profileID string, result *export.Result) (export.Upload, error)
}

// Deps are the collaborators a Service needs. History and Bucket are
// optional.
type Deps struct {
	KV      state.KV
	Proxy   completion.Endpoint
	Direct  completion.Endpoint
	History historyStore
	Bucket  uploader
	Logger  *zap.Logger
}

// workspace is one open profile: its stores, the editor session over its
// document and the completer that owns the in-flight flag.
type workspace struct {
	profile   *state.Profile
	editor    *document.Editor
	completer *completion.Completer
}

type Service struct {
	cfg      config.Config
	kv       state.KV
	proxy    completion.Endpoint
	direct   completion.Endpoint
	history  historyStore
	bucket   uploader
	exporter *export.Service
	box      *secret.Box
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	workspaces map[string]*workspace
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var box *secret.Box
	if cfg.SecretKey != "" {
		box = secret.NewBox(cfg.SecretKey)
	}
	return &Service{
		cfg:        cfg,
		kv:         deps.KV,
		proxy:      deps.Proxy,
		direct:     deps.Direct,
		history:    deps.History,
		bucket:     deps.Bucket,
		exporter:   export.NewService(),
		box:        box,
		logger:     logger,
		now:        time.Now,
		workspaces: make(map[string]*workspace),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

func (s *Service) CreateProfile(ctx context.Context) (ProfileSession, error) {
	id := uuid.NewString()
	profile, err := state.Create(ctx, s.kv, id, s.profileOptions())
	if err != nil {
		return ProfileSession{}, fmt.Errorf("create profile: %w", err)
	}
	token, claims, err := auth.IssueProfileToken([]byte(s.cfg.TokenSecret), id, s.cfg.TokenTTL, s.now())
	if err != nil {
		return ProfileSession{}, err
	}

	s.mu.Lock()
	s.workspaces[id] = s.openWorkspace(profile, document.Empty())
	s.mu.Unlock()

	session := ProfileSession{ProfileID: id, Token: token, User: profile.User()}
	if claims.Exp > 0 {
		expires := time.Unix(claims.Exp, 0).UTC()
		session.ExpiresAt = &expires
	}
	s.logger.Info("profile created", zap.String("profile", id))
	return session, nil
}

// ProfileFromToken returns the profile a bearer token was issued for.
func (s *Service) ProfileFromToken(token string) (string, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token, s.now())
	if err != nil {
		return "", err
	}
	return claims.Sub, nil
}

func (s *Service) Settings(ctx context.Context, profileID string) (state.Settings, error) {
	ws, err := s.workspace(ctx, profileID)
	if err != nil {
		return state.Settings{}, err
	}
	return ws.profile.Settings().Masked(), nil
}

func (s *Service) UpdateSettings(ctx context.Context, profileID string, patch state.SettingsPatch) (state.Settings, error) {
	ws, err := s.workspace(ctx, profileID)
	if err != nil {
		return state.Settings{}, err
	}
	settings, err := ws.profile.UpdateSettings(ctx, patch)
	if err != nil {
		return state.Settings{}, err
	}
	return settings.Masked(), nil
}

func (s *Service) Stats(ctx context.Context, profileID string) (StatsView, error) {
	ws, err := s.workspace(ctx, profileID)
	if err != nil {
		return StatsView{}, err
	}
	return statsView(ws.profile.Stats()), nil
}

func (s *Service) User(ctx context.Context, profileID string) (state.User, error) {
	ws, err := s.workspace(ctx, profileID)
	if err != nil {
		return state.User{}, err
	}
	return ws.profile.User(), nil
}

func (s *Service) Document(ctx context.Context, profileID string) (DocumentView, error) {
	ws, err := s.workspace(ctx, profileID)
	if err != nil {
		return DocumentView{}, err
	}
	return documentView(ws), nil
}

// ReplaceDocument stores a document written by the client. It is refused
// while a completion is generating.
func (s *Service) ReplaceDocument(ctx context.Context, profileID string, doc document.Node, anchor *int) (DocumentView, error) {
	ws, err := s.workspace(ctx, profileID)
	if err != nil {
		return DocumentView{}, err
	}
	if ws.completer.Generating() {
		return DocumentView{}, errGenerating
	}
	// Replace is refused once a completion holds the editor.
	if err := ws.editor.Replace(doc, anchor); err != nil {
		if errors.Is(err, document.ErrNotEditable) {
			return DocumentView{}, errGenerating
		}
		return DocumentView{}, err
	}
	if err := s.saveDocument(ctx, ws); err != nil {
		return DocumentView{}, err
	}
	return documentView(ws), nil
}

func (s *Service) NewDocument(ctx context.Context, profileID string) (DocumentView, error) {
	return s.ReplaceDocument(ctx, profileID, document.Empty(), nil)
}

func (s *Service) ImportMarkdown(ctx context.Context, profileID string, source []byte) (DocumentView, error) {
	return s.ReplaceDocument(ctx, profileID, document.FromMarkdown(source), nil)
}

// Complete runs the completion routine at anchor, or at the current cursor
// when anchor is nil. Failures are reported in the outcome, never as an error.
func (s *Service) Complete(ctx context.Context, profileID string, anchor *int) (CompletionOutcome, error) {
	ws, err := s.workspace(ctx, profileID)
	if err != nil {
		return CompletionOutcome{}, err
	}

	recorder := &completion.Recorder{}
	var result completion.Result
	if anchor != nil {
		result, err = ws.completer.CompleteAt(ctx, ws.editor, *anchor, recorder)
		if err != nil {
			return CompletionOutcome{}, err
		}
	} else {
		result = ws.completer.Complete(ctx, ws.editor, recorder)
	}
	if result == completion.Success {
		if err := s.saveDocument(ctx, ws); err != nil {
			s.logger.Error("failed to save completed document", zap.String("profile", profileID), zap.Error(err))
		}
	}

	notifications := recorder.Notifications()
	if notifications == nil {
		notifications = []completion.Notification{}
	}
	return CompletionOutcome{
		Result:        result.String(),
		Notifications: notifications,
		Document:      documentView(ws),
		Stats:         statsView(ws.profile.Stats()),
		User:          ws.profile.User(),
	}, nil
}

// Export renders the current document. With upload set the file goes to the
// configured bucket and the outcome carries a presigned link instead.
func (s *Service) Export(ctx context.Context, profileID string, format export.Format, title string, upload bool) (ExportOutcome, error) {
	ws, err := s.workspace(ctx, profileID)
	if err != nil {
		return ExportOutcome{}, err
	}
	if upload && s.bucket == nil {
		return ExportOutcome{}, domainError(http.StatusServiceUnavailable, "UPLOAD_UNAVAILABLE", "Export uploads are not configured", nil)
	}
	result, err := s.exporter.Export(ctx, ws.editor.Doc(), format, title)
	if err != nil {
		return ExportOutcome{}, err
	}
	if !upload {
		return ExportOutcome{Result: result}, nil
	}
	put, err := s.bucket.Put(ctx, profileID, result)
	if err != nil {
		return ExportOutcome{}, fmt.Errorf("upload export: %w", err)
	}
	return ExportOutcome{Result: result, Upload: &put}, nil
}

func (s *Service) History(ctx context.Context, profileID string, limit int) ([]history.Commit, error) {
	if _, err := s.workspace(ctx, profileID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Commit{}, nil
	}
	return s.history.List(profileID, limit)
}

func (s *Service) HistoryEntry(ctx context.Context, profileID, hash string) (history.Commit, document.Node, error) {
	if _, err := s.workspace(ctx, profileID); err != nil {
		return history.Commit{}, document.Node{}, err
	}
	if s.history == nil {
		return history.Commit{}, document.Node{}, history.ErrNotFound
	}
	commit, raw, err := s.history.Get(profileID, hash)
	if err != nil {
		return history.Commit{}, document.Node{}, err
	}
	doc, err := document.Parse(raw)
	if err != nil {
		return history.Commit{}, document.Node{}, err
	}
	return commit, doc, nil
}

// Flush writes every pending document. Call it before shutting down.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	profiles := make([]*state.Profile, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		profiles = append(profiles, ws.profile)
	}
	s.mu.Unlock()

	var errs []error
	for _, profile := range profiles {
		if err := profile.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", profile.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) workspace(ctx context.Context, profileID string) (*workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[profileID]; ok {
		return ws, nil
	}

	profile, err := state.Load(ctx, s.kv, profileID, s.profileOptions())
	if err != nil {
		return nil, err
	}
	doc := document.Empty()
	if raw := profile.Document(); raw != nil {
		parsed, err := document.Parse(raw)
		if err != nil {
			s.logger.Warn("discarding unreadable document", zap.String("profile", profileID), zap.Error(err))
		} else if len(parsed.Content) > 0 {
			doc = parsed
		}
	}
	ws := s.openWorkspace(profile, doc)
	s.workspaces[profileID] = ws
	return ws, nil
}

func (s *Service) openWorkspace(profile *state.Profile, doc document.Node) *workspace {
	logger := s.logger.With(zap.String("profile", profile.ID()))
	return &workspace{
		profile:   profile,
		editor:    document.NewEditor(doc),
		completer: completion.NewCompleter(s.proxy, s.direct, profile, logger),
	}
}

func (s *Service) profileOptions() state.Options {
	return state.Options{
		Box:              s.box,
		DocumentDebounce: s.cfg.DocumentDebounce,
		OnDocumentSaved:  s.snapshot,
		Logger:           s.logger,
	}
}

func (s *Service) saveDocument(ctx context.Context, ws *workspace) error {
	raw, err := ws.editor.Doc().Marshal()
	if err != nil {
		return err
	}
	return ws.profile.SaveDocument(ctx, raw)
}

// snapshot records each persisted document in the profile's history.
func (s *Service) snapshot(_ context.Context, profileID string, doc json.RawMessage) {
	if s.history == nil {
		return
	}
	commit, created, err := s.history.Snapshot(profileID, doc, "Save document")
	if err != nil {
		s.logger.Warn("history snapshot failed", zap.String("profile", profileID), zap.Error(err))
		return
	}
	if created {
		s.logger.Debug("history snapshot", zap.String("profile", profileID), zap.String("commit", commit.ShortHash))
	}
}

func documentView(ws *workspace) DocumentView {
	return DocumentView{
		Doc:        ws.editor.Doc(),
		Anchor:     ws.editor.Anchor(),
		Editable:   ws.editor.Editable(),
		Generating: ws.completer.Generating(),
	}
}

func statsView(stats state.Stats) StatsView {
	return StatsView{TokensUsed: stats.TokensUsed, CostEstimate: stats.CostEstimate()}
}

package customization

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

//go:embed themes/*.json
var embedded embed.FS

// DefaultThemes returns the shipped base and theme layers.
func DefaultThemes() fs.FS {
	sub, err := fs.Sub(embedded, "themes")
	if err != nil {
		panic(err)
	}
	return sub
}

// BaseLayer is the file stem of the base layer.
const BaseLayer = "base"

var themeName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrUnknownTheme is returned when a user selects a theme with no layer.
var ErrUnknownTheme = errors.New("customization: unknown theme")

// Service builds the effective document of each user from the shipped
// layers and the user's stored layer.
type Service struct {
	themes       fs.FS
	store        SettingsStore
	defaultTheme string
	logger       *zap.Logger

	mu     sync.Mutex
	layers map[string]Layer
}

// NewService returns a service reading layers from themes. A nil themes
// uses DefaultThemes.
func NewService(themes fs.FS, store SettingsStore, defaultTheme string, logger *zap.Logger) *Service {
	if themes == nil {
		themes = DefaultThemes()
	}
	if store == nil {
		store = NewMemorySettingsStore()
	}
	if defaultTheme == "" {
		defaultTheme = DefaultTheme
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		themes:       themes,
		store:        store,
		defaultTheme: defaultTheme,
		logger:       logger,
		layers:       map[string]Layer{},
	}
}

// layer reads and caches a shipped layer. Layers may be JSON or YAML.
func (s *Service) layer(name string) (Layer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.layers[name]; ok {
		return l, true, nil
	}
	if !themeName.MatchString(name) {
		return Layer{}, false, nil
	}
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		data, err := fs.ReadFile(s.themes, name+ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Layer{}, false, fmt.Errorf("customization: reading %s%s: %w", name, ext, err)
		}
		l, err := ParseLayer(name+ext, data)
		if err != nil {
			return Layer{}, false, err
		}
		s.layers[name] = l
		return l, true, nil
	}
	return Layer{}, false, nil
}

func (s *Service) userLayer(ctx context.Context, user string) (Layer, error) {
	raw, err := s.store.Load(ctx, user)
	if err != nil {
		return Layer{}, fmt.Errorf("customization: loading settings of %s: %w", user, err)
	}
	return ParseLayer("user", raw)
}

// Effective merges base < theme < user for user. The theme is the user's
// choice, else the base layer's, else the configured default.
func (s *Service) Effective(ctx context.Context, user string) (*Effective, error) {
	base, ok, err := s.layer(BaseLayer)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("no base customization layer")
	}
	userL, err := s.userLayer(ctx, user)
	if err != nil {
		return nil, err
	}

	themeType := userL.Doc.Theme.Type
	if themeType == "" {
		themeType = base.Doc.Theme.Type
	}
	if themeType == "" {
		themeType = s.defaultTheme
	}
	theme, ok, err := s.layer(themeType)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("theme layer not found", zap.String("theme", themeType))
	}
	return Combine(base, theme, userL)
}

// Update merges patch into the stored user layer and returns the new
// effective document. Selecting a theme without a layer is refused.
func (s *Service) Update(ctx context.Context, user string, patch map[string]any) (*Effective, error) {
	if t, ok := patch["theme"].(map[string]any); ok {
		if name, ok := t["type"].(string); ok && name != "" {
			if _, found, err := s.layer(name); err != nil {
				return nil, err
			} else if !found {
				return nil, fmt.Errorf("%w: %q", ErrUnknownTheme, name)
			}
		}
	}
	cur, err := s.userLayer(ctx, user)
	if err != nil {
		return nil, err
	}
	next := Merge(cur.Data, patch)
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("customization: encoding settings of %s: %w", user, err)
	}
	if err := s.store.Save(ctx, user, raw); err != nil {
		return nil, fmt.Errorf("customization: saving settings of %s: %w", user, err)
	}
	s.logger.Info("user settings updated", zap.String("user", user))
	return s.Effective(ctx, user)
}

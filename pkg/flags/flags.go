// Package flags holds small process-wide settings (admin session, theme,
// saved end-user session) that survive restarts and are shared by every
// browsing context of the same origin. Reads and writes are synchronous;
// other contexts learn about writes through Watch.
package flags

const (
	KeyAdmin   = "admin"
	KeyTheme   = "theme"
	KeySession = "session"
)

// Change describes one write as seen by a watcher.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	// Origin identifies the context that made the write.
	Origin string `json:"origin"`
}

type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	// Watch reports writes made by other contexts. The returned func stops
	// the notifications.
	Watch(fn func(Change)) (cancel func())
}

func Enabled(s Store, key string) bool {
	v, ok := s.Get(key)
	return ok && v == "true"
}

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Theme returns the stored theme, light when unset.
func Theme(s Store) string {
	if v, ok := s.Get(KeyTheme); ok && v == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

// ToggleTheme flips between light and dark and returns the new theme.
func ToggleTheme(s Store) (string, error) {
	next := ThemeDark
	if Theme(s) == ThemeDark {
		next = ThemeLight
	}
	if err := s.Set(KeyTheme, next); err != nil {
		return "", err
	}
	return next, nil
}

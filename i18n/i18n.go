package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	French  = "fr"
	Kurdish = "ku"
)

// CookieName stores the last language selected through a prefixed URL.
const CookieName = "ackg_lang"

// Supported lists the site locales; the first one is the default.
var Supported = []string{French, Kurdish}

var DefaultLang = French

//go:embed locales/*.json
var localeFS embed.FS

var translations = make(map[string]map[string]string)

var matcher = language.NewMatcher([]language.Tag{
	language.French,
	language.MustParse("ckb"), // Sorani, served as "ku"
	language.MustParse("ku"),
})

// Load parses the embedded string tables.
func Load() error {
	for _, lang := range Supported {
		data, err := localeFS.ReadFile(fmt.Sprintf("locales/%s.json", lang))
		if err != nil {
			return err
		}
		var t map[string]string
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse %s translations: %w", lang, err)
		}
		translations[lang] = t
	}
	return nil
}

func T(lang, key string) string {
	if t, ok := translations[lang]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	if lang != DefaultLang {
		return T(DefaultLang, key)
	}
	return key
}

func IsSupported(lang string) bool {
	for _, l := range Supported {
		if l == lang {
			return true
		}
	}
	return false
}

// FromPath returns the locale named by the first path segment.
func FromPath(path string) (string, bool) {
	seg := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if IsSupported(seg) {
		return seg, true
	}
	return "", false
}

// Detect resolves the language of unprefixed pages: the language cookie,
// then Accept-Language, then the default.
func Detect(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && IsSupported(c.Value) {
		return c.Value
	}

	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		tags, _, err := language.ParseAcceptLanguage(accept)
		if err == nil && len(tags) > 0 {
			_, idx, conf := matcher.Match(tags...)
			if conf != language.No {
				if idx == 0 {
					return French
				}
				return Kurdish
			}
		}
	}
	return DefaultLang
}

func SetCookie(w http.ResponseWriter, lang string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    lang,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

// Dir is the text direction of lang.
func Dir(lang string) string {
	if lang == Kurdish {
		return "rtl"
	}
	return "ltr"
}

// Localizer carries the language of one request into templates.
type Localizer struct {
	Lang string
}

func (l Localizer) T(key string) string { return T(l.Lang, key) }

func (l Localizer) Dir() string { return Dir(l.Lang) }

// Path prefixes p with the localizer's language.
func (l Localizer) Path(p string) string {
	return "/" + l.Lang + "/" + strings.TrimPrefix(p, "/")
}

// Switch returns path with its language segment replaced by lang.
func Switch(path, lang string) string {
	if cur, ok := FromPath(path); ok {
		return "/" + lang + strings.TrimPrefix(path, "/"+cur)
	}
	return "/" + lang + "/accueil"
}

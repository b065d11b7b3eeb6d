package service

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	goahocorasick "github.com/anknown/ahocorasick"
	"golang.org/x/net/html"
)

const defaultMessageMaxLength = 1000

var allowedTags = map[string]bool{
	"b":      true,
	"i":      true,
	"em":     true,
	"strong": true,
	"u":      true,
}

var (
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};'\\:"|,.<>?]`)
)

// BlockedURL es una URL detectada que no paso las comprobaciones de seguridad.
type BlockedURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// ContentResult es el resultado de validar y sanear el texto de un mensaje.
type ContentResult struct {
	OK          bool
	Text        string
	Errors      []string
	Warnings    []string
	URLs        []string
	BlockedURLs []BlockedURL
}

// ValidationError rechaza un mensaje con motivos detallados.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// Sanitizer valida longitud y markup, escapa el texto y censura palabras bloqueadas.
type Sanitizer struct {
	maxLength int
	censor    *wordCensor
}

func NewSanitizer(maxLength int, blockedWords []string) (*Sanitizer, error) {
	if maxLength <= 0 {
		maxLength = defaultMessageMaxLength
	}
	censor, err := newWordCensor(blockedWords)
	if err != nil {
		return nil, fmt.Errorf("build word censor: %w", err)
	}
	return &Sanitizer{maxLength: maxLength, censor: censor}, nil
}

func (s *Sanitizer) ValidateContent(text string) ContentResult {
	res := ContentResult{}

	if strings.TrimSpace(text) == "" {
		res.Errors = append(res.Errors, "Message cannot be empty")
		return res
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		res.Errors = append(res.Errors, fmt.Sprintf("Message too long (max %d characters)", s.maxLength))
		return res
	}

	clean, err := renderAllowedMarkup(text)
	if err != nil {
		res.Errors = append(res.Errors, "Message contains disallowed markup")
		return res
	}
	clean = strings.TrimSpace(clean)
	if clean == "" {
		res.Errors = append(res.Errors, "Message cannot be empty")
		return res
	}

	if s.censor != nil {
		if censored, hit := s.censor.Censor(clean); hit {
			clean = censored
			res.Warnings = append(res.Warnings, "Message contained blocked words")
		}
	}

	if looksLikeSpam(clean) {
		res.Warnings = append(res.Warnings, "Message may contain spam patterns")
	}

	res.URLs = urlPattern.FindAllString(clean, -1)
	for _, u := range res.URLs {
		if ok, reason := checkURLSafety(u); !ok {
			res.BlockedURLs = append(res.BlockedURLs, BlockedURL{URL: u, Reason: reason})
			res.Warnings = append(res.Warnings, "Potentially unsafe URL detected: "+u)
		}
	}

	if clean != text {
		res.Warnings = append(res.Warnings, "Message was sanitized for security")
	}

	res.OK = true
	res.Text = clean
	return res
}

var errDisallowedMarkup = errors.New("disallowed markup")

// renderAllowedMarkup reescribe el texto conservando solo las etiquetas permitidas sin
// atributos; cualquier otra etiqueta, comentario o doctype invalida el mensaje.
func renderAllowedMarkup(text string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return b.String(), nil
			}
			return "", z.Err()
		case html.TextToken:
			b.WriteString(html.EscapeString(string(z.Text())))
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !allowedTags[string(name)] || hasAttr {
				return "", errDisallowedMarkup
			}
			b.WriteString("<" + string(name) + ">")
		case html.EndTagToken:
			name, _ := z.TagName()
			if !allowedTags[string(name)] {
				return "", errDisallowedMarkup
			}
			b.WriteString("</" + string(name) + ">")
		default:
			return "", errDisallowedMarkup
		}
	}
}

func looksLikeSpam(msg string) bool {
	runes := []rune(msg)
	n := len(runes)
	if n == 0 {
		return false
	}

	distinct := make(map[rune]struct{}, n)
	upper := 0
	for _, r := range runes {
		distinct[unicode.ToLower(r)] = struct{}{}
		if r >= 'A' && r <= 'Z' {
			upper++
		}
	}
	if n > 20 && float64(len(distinct)) < float64(n)*0.3 {
		return true
	}
	if n > 10 && float64(upper) > float64(n)*0.5 {
		return true
	}
	special := len(specialPattern.FindAllString(msg, -1))
	return n > 10 && float64(special) > float64(n)*0.3
}

func checkURLSafety(raw string) (bool, string) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false, "URL validation error: " + err.Error()
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false, "Invalid URL scheme"
	}
	host := strings.ToLower(parsed.Hostname())
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0":
		return false, "Localhost URLs not allowed"
	case strings.HasPrefix(host, "192.168.") || strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "172."):
		return false, "Private IP addresses not allowed"
	}
	if strings.Contains(raw, "..") || strings.Count(raw, "/") > 10 {
		return false, "Suspicious URL pattern"
	}
	return true, ""
}

// wordCensor reemplaza por '*' las apariciones (sin distinguir mayusculas) de las
// palabras bloqueadas usando un automata Aho-Corasick.
type wordCensor struct {
	machine *goahocorasick.Machine
}

func newWordCensor(words []string) (*wordCensor, error) {
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		patterns = append(patterns, []rune(strings.ToLower(w)))
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &wordCensor{machine: m}, nil
}

func (c *wordCensor) Censor(text string) (string, bool) {
	orig := []rune(text)
	lowered := make([]rune, len(orig))
	for i, r := range orig {
		lowered[i] = unicode.ToLower(r)
	}
	terms := c.machine.MultiPatternSearch(lowered, false)
	if len(terms) == 0 {
		return text, false
	}
	for _, term := range terms {
		end := term.Pos + len(term.Word)
		if term.Pos < 0 || end > len(orig) {
			continue
		}
		for i := term.Pos; i < end; i++ {
			orig[i] = '*'
		}
	}
	return string(orig), true
}

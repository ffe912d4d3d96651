package shell

import (
	"strings"

	"github.com/dearie-app/dearie/internal/domain"
)

// Background colours.
const (
	ColorDefault     = "#121212"
	ColorPink        = "#FF4187"
	ColorWhite       = "#ffffff"
	ColorTransparent = "transparent"
)

// ChatBodyClass marks the body on chat routes.
const ChatBodyClass = "chatbot-body"

var (
	pinkPaths  = []string{"/challenges/thisMonth", "/challenges/prevMonth_1", "/challenges/prevMonth_2"}
	whitePaths = []string{"/closet", "/challenges", "/more", "/notifications", "/fan-log", "/likelist", "/postlist", "/calendar"}
	chatPaths  = []string{"/chatbot"}
)

var chatThemeColors = map[domain.ThemeClass]string{
	domain.ThemeHeart: "#FF4187",
	domain.ThemeFire:  "#ffffff",
	domain.ThemeGreen: "#E1FFE1",
}

// Background is the page colour, body classes and browser theme colour of
// a route.
type Background struct {
	Color       string   `json:"color"`
	BodyClasses []string `json:"body_classes"`
	ThemeColor  string   `json:"theme_color"`
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isChatPath(path string) bool {
	return hasAnyPrefix(path, chatPaths)
}

// ResolveBackground maps a route and chat theme to its background. Chat
// routes take the theme colour, or transparent with the default browser
// colour when no valid theme is stored. Pink routes are matched before
// white ones.
func ResolveBackground(path string, theme domain.ThemeClass) Background {
	bg := Background{Color: ColorDefault, BodyClasses: []string{}}
	switch {
	case isChatPath(path):
		bg.BodyClasses = append(bg.BodyClasses, ChatBodyClass)
		if c, ok := chatThemeColors[theme]; ok {
			bg.Color = c
			bg.BodyClasses = append(bg.BodyClasses, string(theme))
		} else {
			bg.Color = ColorTransparent
		}
	case hasAnyPrefix(path, pinkPaths):
		bg.Color = ColorPink
	case hasAnyPrefix(path, whitePaths):
		bg.Color = ColorWhite
	}
	bg.ThemeColor = bg.Color
	if bg.Color == ColorTransparent {
		bg.ThemeColor = ColorDefault
	}
	return bg
}

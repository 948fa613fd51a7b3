package render

// Theme name constants.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

var validThemes = map[string]bool{
	ThemeLight: true,
	ThemeDark:  true,
}

// ValidTheme checks that name is one of the supported visual themes.
func ValidTheme(name string) bool {
	return validThemes[name]
}

// Palette holds the colors an engine applies for one visual theme.
type Palette struct {
	Background string
	NodeFill   string
	NodeBorder string
	FontColor  string
	EdgeColor  string
}

var palettes = map[string]Palette{
	ThemeLight: {
		Background: "#ffffff",
		NodeFill:   "#f5f5f5",
		NodeBorder: "#555555",
		FontColor:  "#1f1f1f",
		EdgeColor:  "#555555",
	},
	ThemeDark: {
		Background: "#1e1e1e",
		NodeFill:   "#2a2a2a",
		NodeBorder: "#a0a0a0",
		FontColor:  "#e8e8e8",
		EdgeColor:  "#a0a0a0",
	},
}

// PaletteFor returns the palette for a theme, falling back to light for
// unknown names.
func PaletteFor(theme string) Palette {
	if p, ok := palettes[theme]; ok {
		return p
	}
	return palettes[ThemeLight]
}

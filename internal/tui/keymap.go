package tui

// Key binding constants used in handleKey.
const (
	KeyQuit        = "q"
	KeyQuitUpper   = "Q"
	KeyCtrlC       = "ctrl+c"
	KeyToggle      = " "
	KeyCycleDevice = "tab"
	KeyRefresh     = "r"
	KeyClear       = "c"
)

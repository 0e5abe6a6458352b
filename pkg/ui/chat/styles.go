package chat

import "github.com/charmbracelet/lipgloss"

const (
	colorInk     = lipgloss.Color("16")
	colorUser    = lipgloss.Color("214")
	colorSpecter = lipgloss.Color("45")
	colorNotice  = lipgloss.Color("141")
	colorFailed  = lipgloss.Color("179")
	colorError   = lipgloss.Color("203")
	colorFrame   = lipgloss.Color("24")
)

// theme groups the styles of every chat UI region.
type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	bootLine   lipgloss.Style
	bootDone   lipgloss.Style

	userBox        lipgloss.Style
	userTitle      lipgloss.Style
	assistantBox   lipgloss.Style
	assistantTitle lipgloss.Style
	noticeBox      lipgloss.Style
	noticeTitle    lipgloss.Style
	failedBox      lipgloss.Style
	failedTitle    lipgloss.Style
	errorBox       lipgloss.Style
	errorTitle     lipgloss.Style

	status     lipgloss.Style
	statusBusy lipgloss.Style
	statusErr  lipgloss.Style
	hint       lipgloss.Style
	inputLabel lipgloss.Style
	input      lipgloss.Style
	viewport   lipgloss.Style
}

func cardBox(border lipgloss.Border, accent lipgloss.Color, background string) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(border).
		BorderForeground(accent).
		Background(lipgloss.Color(background)).
		Padding(0, 1)
}

func cardTitle(accent lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(colorInk).
		Background(accent).
		Padding(0, 1)
}

// defaultTheme is a dark cyan palette; each speaker gets its own accent.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("231")).
			Background(colorFrame),
		headerMeta: lipgloss.NewStyle().Foreground(lipgloss.Color("152")),
		divider:    lipgloss.NewStyle().Foreground(colorFrame),
		bootLine:   lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
		bootDone:   lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true),

		userBox:        cardBox(lipgloss.RoundedBorder(), colorUser, "235"),
		userTitle:      cardTitle(colorUser),
		assistantBox:   cardBox(lipgloss.RoundedBorder(), colorSpecter, "234"),
		assistantTitle: cardTitle(colorSpecter),
		noticeBox:      cardBox(lipgloss.NormalBorder(), colorNotice, "236").Foreground(lipgloss.Color("252")),
		noticeTitle:    cardTitle(colorNotice),
		failedBox:      cardBox(lipgloss.RoundedBorder(), colorFailed, "234").Foreground(colorFailed),
		failedTitle:    cardTitle(colorFailed),
		errorBox:       cardBox(lipgloss.ThickBorder(), colorError, "52").Foreground(colorError),
		errorTitle:     cardTitle(colorError).Foreground(lipgloss.Color("231")),

		status:     lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		statusBusy: lipgloss.NewStyle().Foreground(colorSpecter).Bold(true),
		statusErr:  lipgloss.NewStyle().Foreground(colorError).Bold(true),
		hint:       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		inputLabel: lipgloss.NewStyle().Bold(true).Foreground(colorUser),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSpecter).
			Padding(0, 1),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorFrame).
			Padding(0, 1),
	}
}

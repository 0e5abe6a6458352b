package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"specter/pkg/module"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List registered capability modules",
	Run: func(cmd *cobra.Command, args []string) {
		application, err := bootstrap(cmd.Context(), "cmd.modules")
		if err != nil {
			fmt.Printf("failed to start: %v\n", err)
			return
		}
		defer application.Close()

		renderModules(os.Stdout, application.modules.Registry.Descriptors())
	},
}

func init() {
	rootCmd.AddCommand(modulesCmd)
}

var (
	moduleHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111")).Padding(0, 1)
	moduleCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	moduleOffStyle    = moduleCellStyle.Foreground(lipgloss.Color("244"))
)

// renderModules prints descriptors in registration order.
func renderModules(out io.Writer, descriptors []module.Descriptor) {
	if len(descriptors) == 0 {
		fmt.Fprintln(out, "No modules registered.")
		return
	}

	rows := make([][]string, 0, len(descriptors))
	for _, d := range descriptors {
		rows = append(rows, []string{
			strconv.Itoa(d.Order),
			d.ID,
			d.DisplayName,
			yesNo(d.Enabled),
			yesNo(d.Available),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("#", "ID", "NAME", "ENABLED", "AVAILABLE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return moduleHeaderStyle
			}
			if row < 0 || row >= len(descriptors) {
				return moduleCellStyle
			}
			if d := descriptors[row]; !d.Enabled || !d.Available {
				return moduleOffStyle
			}
			return moduleCellStyle
		})

	fmt.Fprintln(out, t.Render())
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

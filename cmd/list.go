package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bnema/waycursor/internal/config"
	"github.com/bnema/waycursor/internal/ui"
	"github.com/bnema/waycursor/internal/xcursor"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:   "list THEME SIZE",
	Short: "List the cursors of a theme",
	Long: `List every cursor the theme provides at the given size, following
Inherits= in index.theme the same way the viewer does. No compositor is
needed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		theme, size := args[0], parseSize(args[1])

		cursors := xcursor.LoadTheme(theme, size, config.Get().Cursor.SearchPaths)
		if len(cursors) == 0 {
			return fmt.Errorf("no cursors found for theme %q at size %d", theme, size)
		}
		inv := newInventory(theme, size, cursors)

		out := cmd.OutOrStdout()
		switch listFormat {
		case "yaml":
			return inv.writeYAML(out)
		case "table", "":
			_, err := fmt.Fprintln(out, inv.render())
			return err
		default:
			return fmt.Errorf("unknown format %q (must be table or yaml)", listFormat)
		}
	},
}

func init() {
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format: table or yaml")
	rootCmd.AddCommand(listCmd)
}

type inventory struct {
	Theme   string       `yaml:"theme"`
	Size    int          `yaml:"size"`
	Bytes   uint64       `yaml:"bytes"`
	Cursors []cursorInfo `yaml:"cursors"`
}

type cursorInfo struct {
	Name        string `yaml:"name"`
	Images      int    `yaml:"images"`
	NominalSize uint32 `yaml:"nominal_size"`
	Width       uint32 `yaml:"width"`
	Height      uint32 `yaml:"height"`
	PeriodMs    uint32 `yaml:"period_ms,omitempty"`
}

func newInventory(theme string, size int, cursors []*xcursor.Cursor) inventory {
	inv := inventory{Theme: theme, Size: size}
	for _, c := range cursors {
		first := c.Images[0]
		info := cursorInfo{
			Name:        c.Name,
			Images:      len(c.Images),
			NominalSize: first.NominalSize,
			Width:       first.Width,
			Height:      first.Height,
		}
		for _, img := range c.Images {
			inv.Bytes += uint64(img.Width) * uint64(img.Height) * 4
			if len(c.Images) > 1 {
				info.PeriodMs += img.Delay
			}
		}
		inv.Cursors = append(inv.Cursors, info)
	}
	return inv
}

func (inv inventory) writeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(inv); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

func (inv inventory) render() string {
	var output strings.Builder

	output.WriteString(ui.FormatAppHeader("CURSOR THEME", fmt.Sprintf("%s at %dpx", inv.Theme, inv.Size)))
	output.WriteString("\n\n")

	rows := make([][]string, 0, len(inv.Cursors))
	for _, c := range inv.Cursors {
		period := "-"
		if c.PeriodMs > 0 {
			period = fmt.Sprintf("%dms", c.PeriodMs)
		}
		rows = append(rows, []string{
			c.Name,
			strconv.Itoa(c.Images),
			fmt.Sprintf("%dx%d", c.Width, c.Height),
			strconv.FormatUint(uint64(c.NominalSize), 10),
			period,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ui.ColorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return ui.TableHeaderStyle
			case col == 0:
				return ui.TableNameStyle
			case col == 4 && rows[row][4] != "-":
				return ui.TableAnimatedStyle
			default:
				return ui.TableCellStyle
			}
		}).
		Headers("NAME", "IMAGES", "SIZE", "NOMINAL", "PERIOD").
		Rows(rows...)

	output.WriteString(t.String())
	output.WriteString("\n\n")
	output.WriteString(ui.SubtleStyle.Render(fmt.Sprintf("Total: %d cursor(s), %s of pixel data",
		len(inv.Cursors), humanize.IBytes(inv.Bytes))))

	return output.String()
}

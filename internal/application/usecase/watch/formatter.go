package watch

import (
	"strings"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

type Formatter struct{}

func NewFormatter() *Formatter { return &Formatter{} }

// Render 画整张网格：SYMBOL venue:price venue:price || 下一个 symbol ...
// 涨绿跌红，无价显示 "--"
func (f *Formatter) Render(st *State, mode RenderMode) string {
	snap := st.Snapshot()
	symbols := st.Symbols()
	venues := st.Venues()

	var sb strings.Builder
	if mode == RenderLive {
		sb.WriteString("\r")
	}

	sb.WriteString(colorize("[BROKERHUB] ", ansiDim))

	for i, sym := range symbols {
		if i > 0 {
			sb.WriteString(colorize("  ||  ", ansiDim))
		}
		sb.WriteString(sym)

		row := snap[sym]
		for _, venue := range venues {
			cell := row[venue]

			price := "--"
			col := ansiYellow
			if cell.Has && cell.Price != "" {
				price = cell.Price
				switch cell.Dir {
				case DirUp:
					col = ansiGreen
				case DirDown:
					col = ansiRed
				}
			}

			sb.WriteString(" ")
			sb.WriteString(colorize(venue+":"+price, col))
		}
	}

	if mode == RenderLive {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}

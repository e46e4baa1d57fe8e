package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Console implementa ports.Notifier escribiendo al writer configurado.
type Console struct {
	out     io.Writer
	compact bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(compact bool) *Console {
	return &Console{out: os.Stdout, compact: compact}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, compact bool) *Console {
	return &Console{out: w, compact: compact}
}

// NotifyCopy anuncia un trade copiado con éxito.
func (c *Console) NotifyCopy(_ context.Context, r domain.CopyResult) error {
	mode := "LIVE"
	if r.Paper {
		mode = "PAPER"
	}
	partial := ""
	if r.PartialFill {
		partial = " (partial)"
	}
	fmt.Fprintf(c.out, "[%s][%s] COPY %s %s %.2f @ %.4f = $%.2f%s fee $%.4f (%s)\n",
		time.Now().Format("15:04:05"), mode,
		r.Side, marketLabel(r.Trade), r.Size, r.Price, r.SizeUSD, partial,
		r.FeeUSD, shortAddr(r.Trade.TraderAddress))
	return nil
}

// NotifySkip anuncia un trade descartado y su razón.
func (c *Console) NotifySkip(_ context.Context, s domain.SkippedTrade) error {
	if c.compact {
		return nil // en modo compacto los skips solo van al journal
	}
	fmt.Fprintf(c.out, "[%s] SKIP %s %s $%.2f — %s\n",
		time.Now().Format("15:04:05"),
		s.Trade.Side, marketLabel(s.Trade), s.Trade.SizeUSD, s.Reason)
	return nil
}

// NotifyAlert anuncia una alerta de riesgo. Las alertas se imprimen siempre,
// también en modo compacto.
func (c *Console) NotifyAlert(_ context.Context, a domain.RiskAlert) error {
	fmt.Fprintf(c.out, "[%s] !! RISK [%s] %s (%.2f / %.2f)\n",
		time.Now().Format("15:04:05"), a.Source, a.Message, a.Metric, a.Limit)
	return nil
}

// PrintStatus imprime el resumen periódico: header, tabla de posiciones
// abiertas y stats agregadas.
func (c *Console) PrintStatus(_ context.Context, stats domain.PortfolioStats, positions []domain.CopyPosition) error {
	now := time.Now().Format("15:04:05")

	if c.compact {
		c.printCompact(now, stats, positions)
		return nil
	}

	ksLabel := "armed"
	if stats.KillSwitchState.Active {
		ksLabel = "ACTIVE: " + stats.KillSwitchState.Reason
	}

	fmt.Fprintf(c.out, "\n[%s] traders %d/%d | detected %d copied %d skipped %d failed %d | kill switch: %s\n",
		now, stats.ActiveTraders, stats.TrackedTraders,
		stats.TradesDetected, stats.TradesCopied, stats.TradesSkipped, stats.TradesFailed,
		ksLabel)

	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  no open positions")
	} else {
		c.printPositions(positions)
	}

	fmt.Fprintf(c.out, "  Exposure: $%.2f | Realized: $%+.2f | Unrealized: $%+.2f | Total: $%+.2f\n",
		stats.TotalExposure, stats.RealizedPnL, stats.UnrealizedPnL,
		stats.RealizedPnL+stats.UnrealizedPnL)

	if stats.LastError != "" && stats.LastErrorAt != nil {
		fmt.Fprintf(c.out, "  Last error (%s): %s\n",
			stats.LastErrorAt.Format("15:04:05"), stats.LastError)
	}
	fmt.Fprintln(c.out)
	return nil
}

// printCompact condensa el estado en una línea, útil para logs largos.
func (c *Console) printCompact(now string, stats domain.PortfolioStats, positions []domain.CopyPosition) {
	ks := ""
	if stats.KillSwitchState.Active {
		ks = " | KILL SWITCH ACTIVE"
	}
	fmt.Fprintf(c.out, "[%s] pos %d | exp $%.2f | pnl $%+.2f/$%+.2f | cp %d sk %d fl %d%s\n",
		now, len(positions), stats.TotalExposure,
		stats.RealizedPnL, stats.UnrealizedPnL,
		stats.TradesCopied, stats.TradesSkipped, stats.TradesFailed, ks)
}

// printPositions imprime la tabla de posiciones abiertas.
func (c *Console) printPositions(positions []domain.CopyPosition) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Side", "Size", "Entry", "Mark", "Value", "uPnL", "uPnL%", "Trader")

	for _, p := range positions {
		table.Append(
			truncate(positionLabel(p), 36),
			p.Outcome,
			fmt.Sprintf("%.2f", p.Size),
			fmt.Sprintf("%.4f", p.AvgEntryPrice),
			fmt.Sprintf("%.4f", p.CurrentPrice),
			fmt.Sprintf("$%.2f", p.CurrentValue),
			fmt.Sprintf("$%+.2f", p.UnrealizedPnL),
			fmt.Sprintf("%+.1f%%", p.PercentPnL),
			shortAddr(p.TraderAddress),
		)
	}
	table.Render()
}

// --- helpers ---

func marketLabel(t domain.DetectedTrade) string {
	label := t.MarketTitle
	if label == "" {
		label = t.MarketID
	}
	return truncate(label, 38) + " [" + t.Outcome + "]"
}

func positionLabel(p domain.CopyPosition) string {
	if p.MarketTitle != "" {
		return p.MarketTitle
	}
	return p.MarketID
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/lifecycle"
)

func closedTrade(ticket, symbol string, pnl float64) lifecycle.Position {
	return lifecycle.Position{
		Ticket:      ticket,
		Symbol:      symbol,
		Venue:       "paper",
		Direction:   broker.Long,
		EntryPrice:  1.1020,
		InitialStop: 1.0985,
		TakeProfit:  1.1090,
		InitialSize: 1.0,
		RealizedPnL: pnl,
		RealizedR:   pnl / 0.0035,
		CloseReason: lifecycle.CloseTakeProfit,
		OpenedAt:    time.Now().UTC().Add(-time.Hour),
		ClosedAt:    time.Now().UTC(),
	}
}

func TestSaveAndRecent(t *testing.T) {
	a, err := NewTradeArchive(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.SaveClosed(closedTrade("t1", "EURUSD", 0.0070), map[string]any{
		"sweep_level": 1.1000,
		"zone_low":    1.1015,
		"zone_high":   1.1025,
	}))
	require.NoError(t, a.SaveClosed(closedTrade("t2", "BTCUSDT", -120), nil))

	rows, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "t2", rows[0].Ticket)

	byTicket := map[string]TradeModel{}
	for _, r := range rows {
		byTicket[r.Ticket] = r
	}
	assert.Contains(t, string(byTicket["t1"].Details), "sweep_level")
	assert.Equal(t, "take_profit", byTicket["t1"].CloseReason)
}

func TestSaveSameTicketTwiceKeepsOneRow(t *testing.T) {
	a, err := NewTradeArchive(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer a.Close()

	trade := closedTrade("t1", "EURUSD", 50)
	require.NoError(t, a.SaveClosed(trade, nil))
	trade.RealizedPnL = 55
	require.NoError(t, a.SaveClosed(trade, nil))

	rows, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 55, rows[0].RealizedPnL, 1e-9)
}

func TestBySymbol(t *testing.T) {
	a, err := NewTradeArchive(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.SaveClosed(closedTrade("t1", "EURUSD", 10), nil))
	require.NoError(t, a.SaveClosed(closedTrade("t2", "BTCUSDT", 20), nil))

	rows, err := a.BySymbol("eurusd", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "EURUSD", rows[0].Symbol)
}

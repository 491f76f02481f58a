package demo

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ebridge/internal/model"
)

func TestMoney_Display(t *testing.T) {
	assert.Equal(t, "€45.750,00", EUR(45750).Display())
	assert.Equal(t, "€0,00", EUR(0).Display())
	assert.Equal(t, "€35.700,00", EUR(42000).Mul(decimal.RequireFromString("0.85")).Display())
}

func TestMoney_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(EURFromString("21000"))
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "21000.00", got["amount"])
	assert.Equal(t, "EUR", got["currency"])
	assert.Equal(t, "€21.000,00", got["display"])
}

func TestSum_CurrencyMismatch(t *testing.T) {
	_, err := Sum("EUR", EUR(10), Money{Amount: decimal.NewFromInt(5), Currency: "USD"})
	require.Error(t, err)
}

func TestPercent_Display(t *testing.T) {
	assert.Equal(t, "+2.5%", PercentFromString("2.5").Display())
	assert.Equal(t, "-1.2%", PercentFromString("-1.2").Display())
	assert.Equal(t, "0.0%", PercentFromString("0").Display())
}

func TestPortfolioView(t *testing.T) {
	p, err := PortfolioView()
	require.NoError(t, err)

	require.Len(t, p.Assets, 3)
	assert.True(t, p.Total.Amount.Equal(decimal.NewFromInt(46950)), "total %s", p.Total.Amount)
	assert.Equal(t, "+2.3%", p.MonthlyChange.Display())
	assert.Equal(t, "BTC", p.Assets[0].Symbol)
	assert.Equal(t, "-1.2%", p.Assets[1].MonthlyChange.Display())
}

func TestDashboardView(t *testing.T) {
	d := DashboardView()

	assert.Equal(t, "€45.750,00", d.PortfolioValue.Display())
	require.Len(t, d.Holdings, 3)
	btc := d.Holdings[0]
	require.NotNil(t, btc.Estimate)
	assert.True(t, btc.Estimate.Amount.Equal(decimal.NewFromInt(35700)))
	assert.Nil(t, d.Holdings[1].Estimate)
}

func TestSearchClients(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"1", "2", "3", "4"}},
		{"  ", []string{"1", "2", "3", "4"}},
		{"rossi", []string{"1"}},
		{"BIANCHI", []string{"2"}},
		{"@email.com", []string{"1", "2", "3", "4"}},
		{"giuseppe.verdi@", []string{"3"}},
		{"nessuno", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := SearchClients(tt.query)
			ids := make([]string, 0, len(got))
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStats(t *testing.T) {
	stats, err := Stats(Clients())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalClients)
	assert.Equal(t, 2, stats.ApprovedClients)
	assert.Equal(t, 1, stats.PendingClients)
	assert.True(t, stats.TotalValue.Amount.Equal(decimal.NewFromInt(136950)))
}

func TestOverview(t *testing.T) {
	o, err := Overview()
	require.NoError(t, err)

	assert.Equal(t, 4, o.Stats.TotalClients)
	assert.Equal(t, 2, o.Stats.ApprovedClients)
	assert.Equal(t, 2, o.Stats.PendingClients)
	assert.Equal(t, "€160.050,00", o.Stats.TotalValue.Display())
	assert.Equal(t, model.KYCPending.Label(), o.Clients[1].KYCLabel)
}

func TestWorkspace_Documents(t *testing.T) {
	w := NewWorkspace()
	w.now = func() time.Time { return time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC) }

	assert.Len(t, w.Documents(), 4)
	assert.Equal(t, 50, w.KYCProgress())

	doc, err := w.MarkUploaded("funds")
	require.NoError(t, err)
	assert.Equal(t, DocumentCompleted, doc.Status)
	assert.Equal(t, "16 Ott 2026", doc.UploadedDate)
	assert.Equal(t, 75, w.KYCProgress())

	_, err = w.MarkUploaded("funds")
	require.ErrorIs(t, err, ErrDocumentAlreadyUploaded)

	_, err = w.MarkUploaded("visa")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestWorkspace_DocumentsAreIsolated(t *testing.T) {
	a, b := NewWorkspace(), NewWorkspace()
	_, err := a.MarkUploaded("tax")
	require.NoError(t, err)

	assert.Equal(t, 75, a.KYCProgress())
	assert.Equal(t, 50, b.KYCProgress())

	// 返却されたスライスを変更しても内部状態は変わらない
	docs := b.Documents()
	docs[3].Status = DocumentCompleted
	assert.Equal(t, 50, b.KYCProgress())
}

func TestWorkspace_Proposals(t *testing.T) {
	w := NewWorkspace()

	props := w.Proposals()
	require.Len(t, props, 3)
	assert.True(t, props[0].TotalValue.Amount.Equal(decimal.NewFromInt(21000)))
	assert.True(t, props[2].TotalValue.Amount.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, "Accettata", props[2].StatusLabel)
	assert.Equal(t, 2, w.PendingProposals())
}

func TestWorkspace_Decide(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		decision  Decision
		confirmed bool
		wantErr   error
		want      ProposalStatus
	}{
		{name: "accept", id: "1", decision: DecisionAccept, confirmed: true, want: ProposalAccepted},
		{name: "reject", id: "2", decision: DecisionReject, confirmed: true, want: ProposalRejected},
		{name: "not confirmed", id: "1", decision: DecisionAccept, wantErr: ErrConfirmationRequired},
		{name: "already decided", id: "3", decision: DecisionReject, confirmed: true, wantErr: ErrProposalNotPending},
		{name: "unknown proposal", id: "9", decision: DecisionAccept, confirmed: true, wantErr: ErrProposalNotFound},
		{name: "invalid decision", id: "1", decision: "maybe", confirmed: true, wantErr: ErrInvalidDecision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorkspace()
			got, err := w.Decide(tt.id, tt.decision, tt.confirmed)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 2, w.PendingProposals())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want.Label(), got.StatusLabel)
			assert.Equal(t, 1, w.PendingProposals())
		})
	}
}

func TestWorkspace_DecideTwice(t *testing.T) {
	w := NewWorkspace()
	_, err := w.Decide("1", DecisionAccept, true)
	require.NoError(t, err)

	_, err = w.Decide("1", DecisionReject, true)
	require.ErrorIs(t, err, ErrProposalNotPending)
	assert.Equal(t, ProposalAccepted, w.Proposals()[0].Status)
}

func TestWorkspace_ConcurrentDecide(t *testing.T) {
	w := NewWorkspace()
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Decide("1", DecisionAccept, true); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" Accept ")
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, d)

	_, err = ParseDecision("approve")
	require.ErrorIs(t, err, ErrInvalidDecision)
}

func TestComposeMessage(t *testing.T) {
	now := time.Date(2026, time.October, 16, 14, 5, 0, 0, time.UTC)

	msg, err := ComposeMessage("  Grazie!  ", now)
	require.NoError(t, err)
	assert.Equal(t, "Grazie!", msg.Message)
	assert.Equal(t, "client", msg.Sender)
	assert.Equal(t, "14:05", msg.Timestamp)
	assert.NotEmpty(t, msg.ID)

	_, err = ComposeMessage(" \n\t ", now)
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChatHistory(t *testing.T) {
	msgs := ChatHistory()
	require.Len(t, msgs, 4)
	assert.Equal(t, "admin", msgs[0].Sender)
	assert.Equal(t, "sent", msgs[3].Status)
}

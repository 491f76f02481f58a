package demo

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/ebridge/internal/model"
)

// Asset はポートフォリオの保有資産。
type Asset struct {
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	Amount        decimal.Decimal `json:"amount"`
	Value         Money           `json:"value"`
	MonthlyChange Percent         `json:"monthly_change"`
}

// Portfolio は保有資産の一覧と合計。
type Portfolio struct {
	Total         Money   `json:"total"`
	MonthlyChange Percent `json:"monthly_change"`
	Assets        []Asset `json:"assets"`
}

// Holding はダッシュボードに表示する保有数量。
type Holding struct {
	Symbol string          `json:"symbol"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	// Estimate は参考評価額。数量のみ表示する資産ではnil。
	Estimate *Money `json:"estimate,omitempty"`
}

// Dashboard は顧客ダッシュボードの表示データ。
type Dashboard struct {
	PortfolioValue Money     `json:"portfolio_value"`
	MonthlyChange  Percent   `json:"monthly_change"`
	Holdings       []Holding `json:"holdings"`
}

// ChatMessage はサポートチャットのメッセージ。
type ChatMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// Client は管理者画面の顧客一覧の1行。
type Client struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	JoinDate       string          `json:"join_date"`
	KYCStatus      model.KYCStatus `json:"kyc_status"`
	KYCLabel       string          `json:"kyc_label"`
	PortfolioValue Money           `json:"portfolio_value"`
	LastActivity   string          `json:"last_activity,omitempty"`
	DocumentsCount int             `json:"documents_count"`
	UnreadMessages int             `json:"unread_messages"`
}

// ClientStats は顧客一覧の集計。
type ClientStats struct {
	TotalClients    int   `json:"total_clients"`
	ApprovedClients int   `json:"approved_clients"`
	PendingClients  int   `json:"pending_clients"`
	TotalValue      Money `json:"total_value"`
}

// AdminOverview は管理者ダッシュボードの表示データ。
type AdminOverview struct {
	Stats   ClientStats `json:"stats"`
	Clients []Client    `json:"clients"`
}

// btcReferencePrice はダッシュボードのBTC参考評価に用いる単価。
var btcReferencePrice = EUR(42000)

func assets() []Asset {
	return []Asset{
		{
			Name:          "Bitcoin",
			Symbol:        "BTC",
			Amount:        decimal.RequireFromString("0.85"),
			Value:         EUR(35700),
			MonthlyChange: PercentFromString("2.5"),
		},
		{
			Name:          "STRF Shares",
			Symbol:        "STRF",
			Amount:        decimal.NewFromInt(150),
			Value:         EUR(7500),
			MonthlyChange: PercentFromString("-1.2"),
		},
		{
			Name:          "STRK Shares",
			Symbol:        "STRK",
			Amount:        decimal.NewFromInt(75),
			Value:         EUR(3750),
			MonthlyChange: PercentFromString("0.8"),
		},
	}
}

// PortfolioView は保有資産の一覧を返す。合計は各資産の評価額の和。
func PortfolioView() (Portfolio, error) {
	list := assets()
	values := make([]Money, len(list))
	for i, a := range list {
		values[i] = a.Value
	}
	total, err := Sum("EUR", values...)
	if err != nil {
		return Portfolio{}, err
	}
	return Portfolio{
		Total:         total,
		MonthlyChange: PercentFromString("2.3"),
		Assets:        list,
	}, nil
}

// DashboardView は顧客ダッシュボードの表示データを返す。
func DashboardView() Dashboard {
	btc := decimal.RequireFromString("0.85")
	estimate := btcReferencePrice.Mul(btc)
	return Dashboard{
		PortfolioValue: EUR(45750),
		MonthlyChange:  PercentFromString("2.3"),
		Holdings: []Holding{
			{Symbol: "BTC", Label: "Bitcoin", Amount: btc, Estimate: &estimate},
			{Symbol: "STRF", Label: "STRF Shares", Amount: decimal.NewFromInt(150)},
			{Symbol: "STRK", Label: "STRK Shares", Amount: decimal.NewFromInt(75)},
		},
	}
}

// ChatHistory はサポートチャットの履歴を返す。
func ChatHistory() []ChatMessage {
	return []ChatMessage{
		{ID: "1", Sender: "admin", Message: "Benvenuto in E-Bridge Capital! Come possiamo aiutarti oggi?", Timestamp: "10:30", Status: "read"},
		{ID: "2", Sender: "client", Message: "Ciao, vorrei informazioni sulla mia proposta di investimento in Bitcoin.", Timestamp: "10:32", Status: "delivered"},
		{ID: "3", Sender: "admin", Message: "Certamente! Ho controllato il tuo profilo. La proposta per l'acquisto di 0.5 BTC è ancora valida fino al 30 gennaio. Vuoi procedere?", Timestamp: "10:35", Status: "read"},
		{ID: "4", Sender: "client", Message: "Sì, sono interessato. Quali sono i prossimi passaggi?", Timestamp: "10:37", Status: "sent"},
	}
}

func newClient(id, name, email, joinDate string, kyc model.KYCStatus, value int64, lastActivity string, docs, unread int) Client {
	return Client{
		ID:             id,
		Name:           name,
		Email:          email,
		JoinDate:       joinDate,
		KYCStatus:      kyc,
		KYCLabel:       kyc.Label(),
		PortfolioValue: EUR(value),
		LastActivity:   lastActivity,
		DocumentsCount: docs,
		UnreadMessages: unread,
	}
}

// Clients は管理者の顧客管理画面の顧客一覧を返す。
func Clients() []Client {
	return []Client{
		newClient("1", "Marco Rossi", "marco.rossi@email.com", "15 Gen 2024", model.KYCApproved, 45750, "2 ore fa", 4, 2),
		newClient("2", "Laura Bianchi", "laura.bianchi@email.com", "18 Gen 2024", model.KYCPending, 23400, "1 giorno fa", 2, 0),
		newClient("3", "Giuseppe Verdi", "giuseppe.verdi@email.com", "20 Gen 2024", model.KYCApproved, 67800, "3 ore fa", 4, 1),
		newClient("4", "Anna Neri", "anna.neri@email.com", "22 Gen 2024", model.KYCRejected, 0, "1 settimana fa", 3, 5),
	}
}

// recentClients は管理者ダッシュボードに表示する最近の顧客。
func recentClients() []Client {
	return []Client{
		newClient("1", "Marco Rossi", "marco.rossi@email.com", "2024-01-15", model.KYCApproved, 45750, "", 0, 0),
		newClient("2", "Giulia Bianchi", "giulia.bianchi@email.com", "2024-01-20", model.KYCPending, 23400, "", 0, 0),
		newClient("3", "Alessandro Verdi", "alessandro.verdi@email.com", "2024-01-10", model.KYCApproved, 78900, "", 0, 0),
		newClient("4", "Sofia Neri", "sofia.neri@email.com", "2024-01-25", model.KYCPending, 12000, "", 0, 0),
	}
}

// SearchClients は氏名またはメールアドレスに検索語を含む顧客を返す。大文字小文字は区別しない。
// 検索語が空の場合は全件を返す。
func SearchClients(query string) []Client {
	q := strings.ToLower(strings.TrimSpace(query))
	all := Clients()
	if q == "" {
		return all
	}
	matched := make([]Client, 0, len(all))
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Email), q) {
			matched = append(matched, c)
		}
	}
	return matched
}

// Stats は顧客一覧を集計する。
func Stats(clients []Client) (ClientStats, error) {
	stats := ClientStats{TotalClients: len(clients)}
	values := make([]Money, 0, len(clients))
	for _, c := range clients {
		switch c.KYCStatus {
		case model.KYCApproved:
			stats.ApprovedClients++
		case model.KYCPending:
			stats.PendingClients++
		}
		values = append(values, c.PortfolioValue)
	}
	total, err := Sum("EUR", values...)
	if err != nil {
		return ClientStats{}, err
	}
	stats.TotalValue = total
	return stats, nil
}

// Overview は管理者ダッシュボードの表示データを返す。
func Overview() (AdminOverview, error) {
	clients := recentClients()
	stats, err := Stats(clients)
	if err != nil {
		return AdminOverview{}, err
	}
	return AdminOverview{Stats: stats, Clients: clients}, nil
}

package demo

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrDocumentNotFound        = errors.New("document not found")
	ErrDocumentAlreadyUploaded = errors.New("document already uploaded")
	ErrProposalNotFound        = errors.New("proposal not found")
	ErrProposalNotPending      = errors.New("proposal is not pending")
	ErrInvalidDecision         = errors.New("invalid decision")
	ErrConfirmationRequired    = errors.New("confirmation required")
	ErrEmptyMessage            = errors.New("empty message")
)

// DocumentStatus はKYC書類の提出状態。
type DocumentStatus string

const (
	DocumentCompleted DocumentStatus = "completed"
	DocumentPending   DocumentStatus = "pending"
)

// Document はKYCで提出する書類。
type Document struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Status       DocumentStatus `json:"status"`
	UploadedDate string         `json:"uploaded_date,omitempty"`
}

// ProposalStatus は投資提案の状態。
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Label はUI表示用のラベルを返す。
func (s ProposalStatus) Label() string {
	switch s {
	case ProposalPending:
		return "In attesa"
	case ProposalAccepted:
		return "Accettata"
	case ProposalRejected:
		return "Rifiutata"
	default:
		return "Sconosciuto"
	}
}

// Decision は提案に対する顧客の回答。
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision は文字列をDecisionに変換する。
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionAccept, DecisionReject:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}

// Proposal は管理者から顧客への投資提案。
type Proposal struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Type        string          `json:"type"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Price       Money           `json:"price"`
	TotalValue  Money           `json:"total_value"`
	Deadline    string          `json:"deadline"`
	Status      ProposalStatus  `json:"status"`
	StatusLabel string          `json:"status_label"`
	Description string          `json:"description"`
}

func newProposal(id, title, kind, asset, amount string, price int64, deadline string, status ProposalStatus, description string) Proposal {
	qty := decimal.RequireFromString(amount)
	unit := EUR(price)
	return Proposal{
		ID:          id,
		Title:       title,
		Type:        kind,
		Asset:       asset,
		Amount:      qty,
		Price:       unit,
		TotalValue:  unit.Mul(qty),
		Deadline:    deadline,
		Status:      status,
		StatusLabel: status.Label(),
		Description: description,
	}
}

func initialDocuments() []Document {
	return []Document{
		{ID: "passport", Name: "Documento di Identità", Description: "Passaporto o carta d'identità valida", Status: DocumentCompleted, UploadedDate: "15 Gen 2024"},
		{ID: "address", Name: "Prova di Residenza", Description: "Bolletta o estratto conto non più vecchio di 3 mesi", Status: DocumentCompleted, UploadedDate: "15 Gen 2024"},
		{ID: "funds", Name: "Origine dei Fondi", Description: "Dichiarazione di origine dei fondi da investire", Status: DocumentPending},
		{ID: "tax", Name: "Dichiarazione Fiscale", Description: "Ultima dichiarazione dei redditi (opzionale)", Status: DocumentPending},
	}
}

func initialProposals() []Proposal {
	return []Proposal{
		newProposal("1", "Acquisto Bitcoin", "buy", "BTC", "0.5", 42000, "25 Gen 2024", ProposalPending,
			"Proposta di acquisto di 0.5 BTC al prezzo di mercato attuale. Ottima opportunità considerando il trend positivo."),
		newProposal("2", "Investimento STRF", "buy", "STRF", "100", 50, "28 Gen 2024", ProposalPending,
			"Acquisto di azioni privilegiate STRF con dividend yield del 5.5% annuo."),
		newProposal("3", "Vendita STRK", "sell", "STRK", "25", 48, "22 Gen 2024", ProposalAccepted,
			"Vendita di azioni STRK per ottimizzazione del portafoglio."),
	}
}

var italianMonths = [...]string{"Gen", "Feb", "Mar", "Apr", "Mag", "Giu", "Lug", "Ago", "Set", "Ott", "Nov", "Dic"}

// formatItalianDate は"15 Gen 2024"形式の日付を返す。
func formatItalianDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), italianMonths[t.Month()-1], t.Year())
}

// Workspace はWebセッションごとの書類と提案の状態を保持する。
// 変更はプロセス内に留まり、永続化されない。
type Workspace struct {
	mu        sync.RWMutex
	documents []Document
	proposals []Proposal
	now       func() time.Time
}

// NewWorkspace は初期状態のWorkspaceを生成する。
func NewWorkspace() *Workspace {
	return &Workspace{
		documents: initialDocuments(),
		proposals: initialProposals(),
		now:       time.Now,
	}
}

// Documents は書類一覧のコピーを返す。
func (w *Workspace) Documents() []Document {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Document, len(w.documents))
	copy(out, w.documents)
	return out
}

// KYCProgress は提出済み書類の割合（0〜100）を返す。
func (w *Workspace) KYCProgress() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.documents) == 0 {
		return 0
	}
	completed := 0
	for _, d := range w.documents {
		if d.Status == DocumentCompleted {
			completed++
		}
	}
	return completed * 100 / len(w.documents)
}

// MarkUploaded は書類を提出済みにする。
func (w *Workspace) MarkUploaded(id string) (Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.documents {
		d := &w.documents[i]
		if d.ID != id {
			continue
		}
		if d.Status == DocumentCompleted {
			return Document{}, ErrDocumentAlreadyUploaded
		}
		d.Status = DocumentCompleted
		d.UploadedDate = formatItalianDate(w.now())
		return *d, nil
	}
	return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
}

// Document はIDで書類を取得する。
func (w *Workspace) Document(id string) (Document, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, d := range w.documents {
		if d.ID == id {
			return d, nil
		}
	}
	return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
}

// Proposals は提案一覧のコピーを返す。
func (w *Workspace) Proposals() []Proposal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Proposal, len(w.proposals))
	copy(out, w.proposals)
	return out
}

// PendingProposals は回答待ちの提案数を返す。
func (w *Workspace) PendingProposals() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, p := range w.proposals {
		if p.Status == ProposalPending {
			n++
		}
	}
	return n
}

// Decide は回答待ちの提案を承諾または拒否する。confirmedがfalseの場合は状態を変えない。
func (w *Workspace) Decide(id string, decision Decision, confirmed bool) (Proposal, error) {
	if decision != DecisionAccept && decision != DecisionReject {
		return Proposal{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.proposals {
		p := &w.proposals[i]
		if p.ID != id {
			continue
		}
		if p.Status != ProposalPending {
			return Proposal{}, ErrProposalNotPending
		}
		if !confirmed {
			return Proposal{}, ErrConfirmationRequired
		}
		p.Status = ProposalAccepted
		if decision == DecisionReject {
			p.Status = ProposalRejected
		}
		p.StatusLabel = p.Status.Label()
		return *p, nil
	}
	return Proposal{}, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
}

// ComposeMessage は顧客が送信するチャットメッセージを組み立てる。前後の空白は除去する。
// メッセージは履歴に保存されない。
func ComposeMessage(text string, now time.Time) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	return ChatMessage{
		ID:        uuid.NewString(),
		Sender:    "client",
		Message:   text,
		Timestamp: now.Format("15:04"),
		Status:    "sent",
	}, nil
}

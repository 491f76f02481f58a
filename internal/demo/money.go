// Package demo はポートフォリオ、KYC書類、提案、チャット、顧客一覧の表示用データを提供する。
// 評価計算や取引執行は行わない。
package demo

import (
	"encoding/json"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// itFormatter はイタリア式の通貨表記（€45.750,00）のフォーマッタ。
var itFormatter = money.NewFormatter(2, ",", ".", "€", "$1")

// Money は通貨付きの金額。金額は主単位のdecimalで保持する。
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// EUR はユーロ建ての金額を生成する。
func EUR(amount int64) Money {
	return Money{Amount: decimal.NewFromInt(amount), Currency: money.EUR}
}

// EURFromString は文字列表記のユーロ建て金額を生成する。
func EURFromString(amount string) Money {
	return Money{Amount: decimal.RequireFromString(amount), Currency: money.EUR}
}

// minor は補助単位（セント）のgo-money値に変換する。
func (m Money) minor() *money.Money {
	cur := money.GetCurrency(m.Currency)
	fraction := int32(2)
	if cur != nil {
		fraction = int32(cur.Fraction)
	}
	return money.New(m.Amount.Shift(fraction).Round(0).IntPart(), m.Currency)
}

// Display は表示用の文字列を返す。
func (m Money) Display() string {
	return itFormatter.Format(m.minor().Amount())
}

// Mul は数量を掛けた金額を返す。
func (m Money) Mul(q decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(q), Currency: m.Currency}
}

// MarshalJSON は金額・通貨・表示文字列を出力する。
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount.StringFixed(2),
		Currency: m.Currency,
		Display:  m.Display(),
	})
}

// Sum は同一通貨の金額を合計する。通貨が混在する場合はエラーを返す。
func Sum(currency string, values ...Money) (Money, error) {
	total := money.New(0, currency)
	for _, v := range values {
		var err error
		total, err = total.Add(v.minor())
		if err != nil {
			return Money{}, fmt.Errorf("failed to sum %s amounts: %w", currency, err)
		}
	}
	cur := total.Currency()
	return Money{
		Amount:   decimal.NewFromInt(total.Amount()).Shift(-int32(cur.Fraction)),
		Currency: currency,
	}, nil
}

// Percent は符号付きの変化率。
type Percent struct {
	Value decimal.Decimal
}

// PercentFromString は文字列表記の変化率を生成する。
func PercentFromString(v string) Percent {
	return Percent{Value: decimal.RequireFromString(v)}
}

// Display は"+2.5%"形式の文字列を返す。
func (p Percent) Display() string {
	s := p.Value.StringFixed(1) + "%"
	if p.Value.IsPositive() {
		return "+" + s
	}
	return s
}

// MarshalJSON は値と表示文字列を出力する。
func (p Percent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value   string `json:"value"`
		Display string `json:"display"`
	}{
		Value:   p.Value.String(),
		Display: p.Display(),
	})
}

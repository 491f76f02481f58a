package model

import (
	"errors"
	"fmt"
)

// Section はアプリケーション内で選択可能な画面セクション。
// 常にちょうど1つがアクティブとなる。
type Section string

const (
	SectionDashboard Section = "dashboard"
	SectionPortfolio Section = "portfolio"
	SectionDocuments Section = "documents"
	SectionProposals Section = "proposals"
	SectionChat      Section = "chat"
	SectionClients   Section = "clients"
	SectionSettings  Section = "settings"
)

// Sections は定義済みの全セクションを返す。
func Sections() []Section {
	return []Section{
		SectionDashboard,
		SectionPortfolio,
		SectionDocuments,
		SectionProposals,
		SectionChat,
		SectionClients,
		SectionSettings,
	}
}

// Valid はSectionが列挙値に含まれるかを判定する。
func (s Section) Valid() bool {
	for _, v := range Sections() {
		if s == v {
			return true
		}
	}
	return false
}

// ErrUnknownSection は列挙値に含まれないセクション名が指定された場合のエラー。
var ErrUnknownSection = errors.New("unknown section")

// ParseSection は文字列をSectionに変換する。列挙値に含まれない場合はErrUnknownSectionを返す。
func ParseSection(name string) (Section, error) {
	s := Section(name)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSection, name)
	}
	return s, nil
}

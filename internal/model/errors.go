package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, portfolio, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeAuthFailed            = "AUTH_FAILED"
	ErrCodeSignOutFailed         = "SIGN_OUT_FAILED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodePasswordMismatch      = "PASSWORD_MISMATCH"
	ErrCodeTermsNotAccepted      = "TERMS_NOT_ACCEPTED"
	ErrCodeInvalidSection        = "INVALID_SECTION"
	ErrCodeProposalNotFound      = "PROPOSAL_NOT_FOUND"
	ErrCodeProposalNotPending    = "PROPOSAL_NOT_PENDING"
	ErrCodeInvalidDecision       = "INVALID_DECISION"
	ErrCodeConfirmationRequired  = "CONFIRMATION_REQUIRED"
	ErrCodeDocumentNotFound      = "DOCUMENT_NOT_FOUND"
	ErrCodeDocumentAlreadyLoaded = "DOCUMENT_ALREADY_UPLOADED"
	ErrCodeEmptyMessage          = "EMPTY_MESSAGE"
	ErrCodeAvatarNotSet          = "AVATAR_NOT_SET"
	ErrCodeAvatarFetchFailed     = "AVATAR_FETCH_FAILED"
	ErrCodeBackendUnavailable    = "BACKEND_UNAVAILABLE"
	ErrCodeCSRFInvalid           = "CSRF_INVALID"
	ErrCodeInternal              = "INTERNAL_ERROR"
	ErrCodeRateLimited           = "RATE_LIMIT_EXCEEDED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Accesso richiesto.",
		Category: "auth",
		Action:   "Effettua il login per continuare.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Non hai i permessi per accedere a questa sezione.",
		Category: "auth",
		Action:   "Contatta un amministratore se ritieni si tratti di un errore.",
	}
}

// NewAuthFailedError はバックエンドの認証エラーをそのまま伝えるエラーを生成する。
// messageにはバックエンドが返したメッセージを解釈せずに渡す。
func NewAuthFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  message,
		Category: "auth",
		Action:   "Controlla le credenziali e riprova.",
	}
}

// NewSignOutFailedError はログアウト失敗エラーを生成する。
func NewSignOutFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSignOutFailed,
		Message:  "Errore durante il logout",
		Category: "auth",
		Action:   "Riprova tra qualche istante.",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Richiesta non valida: %s", reason),
		Category: "validation",
		Action:   "Controlla i dati inviati e riprova.",
	}
}

// NewPasswordMismatchError はパスワード確認不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "Le password non coincidono",
		Category: "validation",
		Action:   "Inserisci la stessa password in entrambi i campi.",
	}
}

// NewTermsNotAcceptedError は利用規約未同意エラーを生成する。
func NewTermsNotAcceptedError() *APIError {
	return &APIError{
		Code:     ErrCodeTermsNotAccepted,
		Message:  "Devi accettare i termini e condizioni",
		Category: "validation",
		Action:   "Accetta i termini e condizioni per completare la registrazione.",
	}
}

// NewInvalidSectionError は未知のセクションエラーを生成する。
func NewInvalidSectionError(section string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSection,
		Message:  fmt.Sprintf("Sezione sconosciuta: %s", section),
		Category: "validation",
		Action:   "Scegli una sezione dal menu.",
	}
}

// NewProposalNotFoundError は提案未検出エラーを生成する。
func NewProposalNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeProposalNotFound,
		Message:  fmt.Sprintf("Proposta non trovata: %s", id),
		Category: "portfolio",
		Action:   "Aggiorna l'elenco delle proposte.",
	}
}

// NewProposalNotPendingError は回答済みの提案に再回答しようとした場合のエラーを生成する。
func NewProposalNotPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeProposalNotPending,
		Message:  "La proposta non è più in attesa di risposta.",
		Category: "portfolio",
		Action:   "Solo le proposte in attesa possono essere accettate o rifiutate.",
	}
}

// NewInvalidDecisionError は不正な回答種別エラーを生成する。
func NewInvalidDecisionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDecision,
		Message:  fmt.Sprintf("Azione non valida: %s", action),
		Category: "validation",
		Action:   "Usa accept oppure reject.",
	}
}

// NewConfirmationRequiredError は確認チェック未完了エラーを生成する。
func NewConfirmationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationRequired,
		Message:  "È necessario confermare l'operazione.",
		Category: "validation",
		Action:   "Spunta la casella di conferma e riprova.",
	}
}

// NewDocumentNotFoundError は書類未検出エラーを生成する。
func NewDocumentNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeDocumentNotFound,
		Message:  fmt.Sprintf("Documento non trovato: %s", id),
		Category: "portfolio",
		Action:   "Aggiorna l'elenco dei documenti.",
	}
}

// NewDocumentAlreadyUploadedError は提出済み書類への再アップロードエラーを生成する。
func NewDocumentAlreadyUploadedError() *APIError {
	return &APIError{
		Code:     ErrCodeDocumentAlreadyLoaded,
		Message:  "Il documento è già stato caricato.",
		Category: "portfolio",
		Action:   "Contatta il tuo consulente per sostituire il documento.",
	}
}

// NewEmptyMessageError は空メッセージ送信エラーを生成する。
func NewEmptyMessageError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyMessage,
		Message:  "Il messaggio è vuoto.",
		Category: "validation",
		Action:   "Scrivi un messaggio prima di inviarlo.",
	}
}

// NewAvatarNotSetError はアバター未設定エラーを生成する。
func NewAvatarNotSetError() *APIError {
	return &APIError{
		Code:     ErrCodeAvatarNotSet,
		Message:  "Nessuna immagine del profilo impostata.",
		Category: "portfolio",
		Action:   "Imposta un'immagine del profilo.",
	}
}

// NewAvatarFetchFailedError はアバター取得失敗エラーを生成する。
func NewAvatarFetchFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAvatarFetchFailed,
		Message:  "Impossibile caricare l'immagine del profilo.",
		Category: "system",
		Action:   "Verifica che l'indirizzo dell'immagine sia pubblico e riprova.",
	}
}

// NewBackendUnavailableError はバックエンドサービスへの接続失敗エラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "Si è verificato un errore imprevisto",
		Category: "system",
		Action:   "Riprova tra qualche istante.",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "La sessione del modulo non è valida.",
		Category: "auth",
		Action:   "Ricarica la pagina e riprova.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Si è verificato un errore interno.",
		Category: "system",
		Action:   "Riprova tra qualche istante.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Troppe richieste.",
		Category: "system",
		Action:   "Attendi qualche secondo e riprova.",
	}
}

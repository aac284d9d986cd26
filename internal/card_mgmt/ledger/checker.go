package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ===== 整合性チェック =====

// CheckerStore は検査に必要な読み取りだけを切り出したもの
type CheckerStore interface {
	ListCardFlags(ctx context.Context) ([]CardFlag, error)
	LedgerCardIdms(ctx context.Context) ([]string, error)
	ListByCardAsc(ctx context.Context, idm string) ([]Record, error)
}

type Violation struct {
	CardIdm string `json:"card_idm"`
	Kind    string `json:"kind"` // balance_chain | open_record_count | lent_flag_mismatch
	Detail  string `json:"detail"`
}

type Report struct {
	CheckedCards int         `json:"checked_cards"`
	Violations   []Violation `json:"violations"`
	CheckedAt    time.Time   `json:"checked_at"`
}

func (r *Report) OK() bool { return len(r.Violations) == 0 }

type Checker struct {
	store CheckerStore
	log   *slog.Logger
	now   func() time.Time
}

func NewChecker(store CheckerStore, log *slog.Logger) *Checker {
	return &Checker{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Check は全カードの残高連鎖・未返却記録数・貸出フラグを検査する。
// 違反は警告ログに残し、修復はしない。
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	flags, err := c.store.ListCardFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("カード一覧の取得に失敗: %w", err)
	}
	ledgerIdms, err := c.store.LedgerCardIdms(ctx)
	if err != nil {
		return nil, fmt.Errorf("台帳カードIDmの取得に失敗: %w", err)
	}

	flagByIdm := make(map[string]CardFlag, len(flags))
	idmSet := make(map[string]struct{}, len(flags)+len(ledgerIdms))
	for _, f := range flags {
		flagByIdm[f.Idm] = f
		idmSet[f.Idm] = struct{}{}
	}
	for _, idm := range ledgerIdms {
		idmSet[idm] = struct{}{}
	}

	idms := make([]string, 0, len(idmSet))
	for idm := range idmSet {
		idms = append(idms, idm)
	}
	sort.Strings(idms)

	report := &Report{CheckedAt: c.now()}
	for _, idm := range idms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := c.store.ListByCardAsc(ctx, idm)
		if err != nil {
			return nil, fmt.Errorf("台帳の読み込みに失敗 idm=%s: %w", idm, err)
		}
		report.CheckedCards++

		if err := Validate(records); err != nil {
			report.Violations = append(report.Violations, Violation{
				CardIdm: idm,
				Kind:    "balance_chain",
				Detail:  err.Error(),
			})
		}

		open := 0
		for _, r := range records {
			if r.IsOpen() {
				open++
			}
		}
		if open > 1 {
			report.Violations = append(report.Violations, Violation{
				CardIdm: idm,
				Kind:    "open_record_count",
				Detail:  fmt.Sprintf("未返却の貸出記録が %d 件あります", open),
			})
		}

		if flag, ok := flagByIdm[idm]; ok {
			if flag.IsLent != (open >= 1) {
				report.Violations = append(report.Violations, Violation{
					CardIdm: idm,
					Kind:    "lent_flag_mismatch",
					Detail:  fmt.Sprintf("is_lent=%t ですが未返却記録は %d 件です", flag.IsLent, open),
				})
			}
		}
	}

	for _, v := range report.Violations {
		c.log.Warn("整合性チェックで違反を検出",
			slog.String("card_idm", v.CardIdm),
			slog.String("kind", v.Kind),
			slog.String("detail", v.Detail),
		)
	}
	c.log.Info("整合性チェック完了",
		slog.Int("checked_cards", report.CheckedCards),
		slog.Int("violations", len(report.Violations)),
	)
	return report, nil
}

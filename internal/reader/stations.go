package reader

import (
	"bytes"
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// IC SFCard Fan 由来の線区駅順コード表。配布元の系譜により
// Shift-JIS 版と UTF-8 版が混在するため、読み込み時に判別する。
//
//go:embed StationCode.csv
var stationFS embed.FS

const unknownStation = "駅不明"

type Station struct {
	Area    int
	Line    int
	Code    int
	Company string
	LineNam string
	Name    string
	Note    string
}

type stationKey struct{ area, line, code int }

type StationTable struct {
	byKey map[stationKey]Station
}

// LoadStations は埋め込みの StationCode.csv から駅コード表を構築する。
func LoadStations() (*StationTable, error) {
	f, err := stationFS.Open("StationCode.csv")
	if err != nil {
		return nil, fmt.Errorf("駅コード表が開けない: %w", err)
	}
	defer f.Close()
	return ParseStations(f)
}

// ParseStations は AreaCode,LineCode,StationCode,CompanyName,LineName,StationName,Note
// 形式のCSVを読み込む。UTF-8 でなければ Shift-JIS として復号する。
func ParseStations(r io.Reader) (*StationTable, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		raw, err = io.ReadAll(transform.NewReader(bytes.NewReader(raw), japanese.ShiftJIS.NewDecoder()))
		if err != nil {
			return nil, fmt.Errorf("Shift-JIS の復号に失敗: %w", err)
		}
	}

	cr := csv.NewReader(bytes.NewReader(raw))
	cr.Comment = '#'
	cr.FieldsPerRecord = -1

	t := &StationTable{byKey: make(map[stationKey]Station)}
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("駅コード表のパース失敗: %w", err)
		}
		line++
		if len(rec) < 6 {
			return nil, fmt.Errorf("駅コード表 %d行目: 列数不足", line)
		}
		if rec[0] == "AreaCode" {
			continue
		}

		area, err1 := strconv.Atoi(strings.TrimSpace(rec[0]))
		lineCode, err2 := strconv.Atoi(strings.TrimSpace(rec[1]))
		code, err3 := strconv.Atoi(strings.TrimSpace(rec[2]))
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("駅コード表 %d行目: コードが数値でない", line)
		}

		st := Station{
			Area:    area,
			Line:    lineCode,
			Code:    code,
			Company: rec[3],
			LineNam: rec[4],
			Name:    rec[5],
		}
		if len(rec) > 6 {
			st.Note = rec[6]
		}
		t.byKey[stationKey{area, lineCode, code}] = st
	}
	return t, nil
}

func (t *StationTable) Len() int { return len(t.byKey) }

func (t *StationTable) Lookup(area, line, code int) (Station, bool) {
	st, ok := t.byKey[stationKey{area, line, code}]
	return st, ok
}

// StationName は駅名を返す。未知のコードは 駅不明。
func (t *StationTable) StationName(area, line, code int) string {
	if st, ok := t.Lookup(area, line, code); ok {
		return st.Name
	}
	return unknownStation
}

// Summary は利用履歴1件を台帳の摘要文字列に変換する。
// 鉄道は「鉄道（乗車駅～降車駅）」、バスは停留所名が取れないため「バス（★）」。
func (t *StationTable) Summary(e UsageEntry) string {
	switch e.Kind {
	case KindTrain:
		entry := t.StationName(e.EntryArea, e.EntryLine, e.EntryStation)
		exit := t.StationName(e.ExitArea, e.ExitLine, e.ExitStation)
		if entry != unknownStation {
			entry += "駅"
		}
		if exit != unknownStation {
			exit += "駅"
		}
		return fmt.Sprintf("鉄道（%s～%s）", entry, exit)
	case KindBus:
		return "バス（★）"
	case KindCharge:
		return "チャージ"
	case KindPurchase:
		return "物販"
	default:
		return "その他"
	}
}

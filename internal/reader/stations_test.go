package reader

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

func TestLoadStations_Embedded(t *testing.T) {
	table, err := LoadStations()
	require.NoError(t, err)
	require.Greater(t, table.Len(), 0)

	st, ok := table.Lookup(3, 229, 11)
	require.True(t, ok)
	assert.Equal(t, "博多", st.Name)
	assert.Equal(t, "福岡市交通局", st.Company)
	assert.Equal(t, "空港線", st.LineNam)

	_, ok = table.Lookup(9, 9, 9)
	assert.False(t, ok)
}

func TestParseStations_UTF8(t *testing.T) {
	src := strings.Join([]string{
		"# コメント行は読み飛ばす",
		"AreaCode,LineCode,StationCode,CompanyName,LineName,StationName,Note",
		"0,6,44,ＪＲ九州,鹿児島線,博多,",
		"3,215,124,西日本鉄道,甘木線,紫,2017年改名",
	}, "\n") + "\n"

	table, err := ParseStations(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	st, ok := table.Lookup(3, 215, 124)
	require.True(t, ok)
	assert.Equal(t, "紫", st.Name)
	assert.Equal(t, "2017年改名", st.Note)
}

func TestParseStations_ShiftJIS(t *testing.T) {
	src := "AreaCode,LineCode,StationCode,CompanyName,LineName,StationName,Note\n" +
		"3,229,8,福岡市交通局,空港線,天神,\n"

	enc, err := io.ReadAll(transform.NewReader(strings.NewReader(src), japanese.ShiftJIS.NewEncoder()))
	require.NoError(t, err)

	table, err := ParseStations(bytes.NewReader(enc))
	require.NoError(t, err)
	assert.Equal(t, "天神", table.StationName(3, 229, 8))
}

func TestParseStations_BadRows(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"too few columns", "0,1,2\n"},
		{"non-numeric code", "x,1,2,会社,線,駅,\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStations(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestStationTable_Summary(t *testing.T) {
	table, err := LoadStations()
	require.NoError(t, err)

	tests := []struct {
		name string
		e    UsageEntry
		want string
	}{
		{
			name: "train",
			e: UsageEntry{
				Kind:      KindTrain,
				EntryArea: 3, EntryLine: 229, EntryStation: 11,
				ExitArea: 3, ExitLine: 229, ExitStation: 8,
			},
			want: "鉄道（博多駅～天神駅）",
		},
		{
			name: "train with unknown exit",
			e: UsageEntry{
				Kind:      KindTrain,
				EntryArea: 3, EntryLine: 229, EntryStation: 11,
				ExitArea: 9, ExitLine: 9, ExitStation: 9,
			},
			want: "鉄道（博多駅～駅不明）",
		},
		{name: "bus", e: UsageEntry{Kind: KindBus}, want: "バス（★）"},
		{name: "charge", e: UsageEntry{Kind: KindCharge}, want: "チャージ"},
		{name: "purchase", e: UsageEntry{Kind: KindPurchase}, want: "物販"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Summary(tt.e))
		})
	}
}

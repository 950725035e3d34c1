package syncengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validParams() SessionParams {
	return SessionParams{
		CompanyCode:             "00000001",
		BaseCode:                "TOKYO01",
		RepCode:                 "W0000001",
		WorksheetNo:             "1234567890",
		ReceiptConfirmationDate: "20260810",
		Model:                   "AB-100",
		ClientName:              "テスト株式会社",
		InspectionName:          "出荷前検査",
		ScheduledDate:           "20260829",
	}
}

func TestSessionParamsValid(t *testing.T) {
	p := validParams()
	require.NoError(t, p.Validate())
}

func TestSessionParamsRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SessionParams)
	}{
		{"company code with letters", func(p *SessionParams) { p.CompanyCode = "A0000001" }},
		{"company code too long", func(p *SessionParams) { p.CompanyCode = "000000001" }},
		{"base code with symbol", func(p *SessionParams) { p.BaseCode = "TOKYO-1" }},
		{"worksheet too short", func(p *SessionParams) { p.WorksheetNo = "123456789" }},
		{"worksheet with letters", func(p *SessionParams) { p.WorksheetNo = "12345678AB" }},
		{"receipt date not 8 digits", func(p *SessionParams) { p.ReceiptConfirmationDate = "2026081" }},
		{"scheduled date with slash", func(p *SessionParams) { p.ScheduledDate = "2026/8/29" }},
		{"blank model", func(p *SessionParams) { p.Model = "　 " }},
		{"model leading hyphen", func(p *SessionParams) { p.Model = "-AB100" }},
		{"model too long", func(p *SessionParams) { p.Model = strings.Repeat("A", 21) }},
		{"client name half-width", func(p *SessionParams) { p.ClientName = "Test Corp" }},
		{"client name too long", func(p *SessionParams) { p.ClientName = strings.Repeat("あ", 51) }},
		{"inspection name too long", func(p *SessionParams) { p.InspectionName = strings.Repeat("検", 16) }},
		{"inspection name half-width kana", func(p *SessionParams) { p.InspectionName = "ｹﾝｻ" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			err := p.Validate()
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestValidateItemName(t *testing.T) {
	require.NoError(t, validateItemName("銘板"))
	require.NoError(t, validateItemName("　銘板 "))

	require.ErrorIs(t, validateItemName(""), ErrValidation)
	require.ErrorIs(t, validateItemName("　 "), ErrValidation)
	require.ErrorIs(t, validateItemName(strings.Repeat("あ", 17)), ErrValidation)
	require.ErrorIs(t, validateItemName("銘板&外観"), ErrValidation)
	require.ErrorIs(t, validateItemName("ﾒｲﾊﾞﾝ"), ErrValidation)
}

func TestValidateModel(t *testing.T) {
	require.NoError(t, validateModel("AB-100"))

	require.ErrorIs(t, validateModel(""), ErrValidation)
	require.ErrorIs(t, validateModel("-AB100"), ErrValidation)
	require.ErrorIs(t, validateModel(strings.Repeat("A", 21)), ErrValidation)
	require.ErrorIs(t, validateModel("AB/100"), ErrValidation)
	require.ErrorIs(t, validateModel("AB\x1f100"), ErrValidation)
}

func TestValidateSerialNumber(t *testing.T) {
	require.NoError(t, validateSerialNumber("S12345678901"))

	require.ErrorIs(t, validateSerialNumber(""), ErrValidation)
	require.ErrorIs(t, validateSerialNumber("S123456789012"), ErrValidation)
	require.ErrorIs(t, validateSerialNumber(`S12"34`), ErrValidation)
}

func TestValidateNGComment(t *testing.T) {
	require.NoError(t, validateNGComment("正面パネルに傷あり"))

	require.ErrorIs(t, validateNGComment(""), ErrValidation)
	require.ErrorIs(t, validateNGComment(strings.Repeat("あ", 51)), ErrValidation)
	require.ErrorIs(t, validateNGComment("傷;あり"), ErrValidation)
	// Private-use gaiji is rejected.
	require.ErrorIs(t, validateNGComment("傷あり"), ErrValidation)
}

func TestValidationErrorCarriesField(t *testing.T) {
	err := validateModel("-X")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "model", verr.Field)
}

package ofx

import (
	"context"
	"strings"
	"testing"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ofxHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20250930120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
`

const chequingOFX = ofxHeader + `<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>CAD
<BANKACCTFROM>
<BANKID>003
<ACCTID>5550001
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20250901120000[0:GMT]
<DTEND>20250930120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250917120000[0:GMT]
<TRNAMT>-76.09
<FITID>SEP17A
<NAME>INTERAC PURCHASE SOBEYS #852
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250918120000[0:GMT]
<TRNAMT>-12.40
<FITID>SEP18A
<NAME>PURCHASE
<MEMO>TIM HORTONS #1190
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20250920120000[0:GMT]
<TRNAMT>1500.00
<FITID>SEP20A
<NAME>PAYROLL DEPOSIT
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2100.00
<DTASOF>20250930120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const cardOFX = ofxHeader + `<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>2
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>9999
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20250901120000[0:GMT]
<DTEND>20250930120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250905120000[0:GMT]
<TRNAMT>-15.49
<FITID>CC1
<NAME>NETFLIX.COM
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-15.49
<DTASOF>20250930120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		data          string
		expectedCount int
		expectedError bool
	}{
		{name: "bank statement", data: chequingOFX, expectedCount: 3},
		{name: "credit card statement", data: cardOFX, expectedCount: 1},
		{name: "invalid OFX data", data: "not valid OFX", expectedError: true},
		{name: "empty OFX", data: "", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := NewParser(nil).Parse(context.Background(), strings.NewReader(tt.data))
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, stmt.Transactions, tt.expectedCount)
		})
	}
}

func TestParse_BankLines(t *testing.T) {
	stmt, err := NewParser(nil).Parse(context.Background(), strings.NewReader(chequingOFX))
	require.NoError(t, err)
	require.Len(t, stmt.Transactions, 3)

	assert.Equal(t, "CAD", stmt.Currency)
	assert.Equal(t, []string{"5550001"}, stmt.Accounts)

	sobeys := stmt.Transactions[0]
	assert.Equal(t, "2025-09-17", sobeys.Date)
	assert.Equal(t, "SOBEYS #852", sobeys.Merchant)
	assert.True(t, decimal.RequireFromString("76.09").Equal(sobeys.Amount))
	assert.Equal(t, "CAD", sobeys.Currency)
	assert.Equal(t, "SEP17A", sobeys.RawLine)

	tims := stmt.Transactions[1]
	assert.Equal(t, "TIM HORTONS #1190", tims.Merchant, "generic NAME falls back to MEMO")
	assert.Equal(t, "PURCHASE TIM HORTONS #1190", tims.Description)

	deposit := stmt.Transactions[2]
	assert.True(t, deposit.Amount.IsNegative(), "credits are negative")
}

func TestMerchantName(t *testing.T) {
	tests := []struct {
		name string
		tx   ofxgo.Transaction
		want string
	}{
		{name: "payee wins", tx: ofxgo.Transaction{Name: "POS 123", Payee: &ofxgo.Payee{Name: "Loblaws"}}, want: "Loblaws"},
		{name: "prefix stripped", tx: ofxgo.Transaction{Name: "DEBIT CARD PURCHASE SHELL 4412"}, want: "SHELL 4412"},
		{name: "post date stripped", tx: ofxgo.Transaction{Name: "CHECK CARD 09/14 METRO"}, want: "METRO"},
		{name: "plain", tx: ofxgo.Transaction{Name: "  COSTCO  "}, want: "COSTCO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, merchantName(tt.tx))
		})
	}
}

func TestLooksLikeOFX(t *testing.T) {
	assert.True(t, LooksLikeOFX([]byte(chequingOFX)))
	assert.True(t, LooksLikeOFX([]byte("<?xml version=\"1.0\"?><OFX></OFX>")))
	assert.False(t, LooksLikeOFX([]byte("date,description,amount\n")))
	assert.False(t, LooksLikeOFX(nil))
}

func TestPreprocess(t *testing.T) {
	got := preprocess("\n\n<SEVERITY>Warn</SEVERITY>\n<CODE\n")
	assert.Equal(t, "<SEVERITY>WARN</SEVERITY>\n<CODE>\n", got)
}

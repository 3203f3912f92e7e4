package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledger-intake/internal/model"
)

const cardOFX = `OFXHEADER:100
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
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>CAD
<CCACCTFROM>
<ACCTID>4500111122223333
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20250901120000[0:GMT]
<DTEND>20250930120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250905120000[0:GMT]
<TRNAMT>-42.10
<FITID>C1
<NAME>PETRO-CANADA
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250903120000[0:GMT]
<TRNAMT>-8.75
<FITID>C2
<NAME>TIM HORTONS
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-50.85
<DTASOF>20250930120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>
`

func newDetector() *Detector {
	return NewDetector(NewCascade(nil, nil))
}

func TestDetect_Receipt(t *testing.T) {
	text := `SUPERSTORE
123 Main St
2025-03-04
MILK 2 x 3.50
SUBTOTAL 7.00
HST 0.91
TOTAL 7.91`

	doc := newDetector().Detect(context.Background(), text)
	r, ok := doc.(model.Receipt)
	require.True(t, ok, "got %T", doc)
	assert.Equal(t, "SUPERSTORE", r.Merchant)
	assert.Equal(t, "2025-03-04", r.Date)
	require.True(t, r.Total.Valid)
	assert.True(t, dec("7.91").Equal(r.Total.Decimal))
	require.Len(t, r.Items, 1)
	assert.Equal(t, "MILK", r.Items[0].Name)
	assert.True(t, dec("2").Equal(r.Items[0].Qty))
	assert.True(t, dec("3.50").Equal(r.Items[0].Price))
}

func TestDetect_Invoice(t *testing.T) {
	text := `ACME SUPPLIES LTD
Invoice #INV-1001
Invoice Date: 2025-02-10
Bill To: Northwind
Widgets 10 x 5.00
Subtotal: 50.00
Tax: 6.50
Total: 56.50
All amounts in USD`

	doc := newDetector().Detect(context.Background(), text)
	inv, ok := doc.(model.Invoice)
	require.True(t, ok, "got %T", doc)
	assert.Equal(t, "ACME SUPPLIES LTD", inv.Vendor)
	assert.Equal(t, "INV-1001", inv.Number)
	assert.Equal(t, "2025-02-10", inv.Date)
	assert.Equal(t, "USD", inv.Currency)
	assert.True(t, dec("56.50").Equal(inv.Total.Decimal))
	assert.True(t, dec("50.00").Equal(inv.Subtotal.Decimal))
	assert.True(t, dec("6.50").Equal(inv.Tax.Decimal))
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "Widgets", inv.LineItems[0].Name)
}

func TestDetect_InvoiceWithoutTotal(t *testing.T) {
	text := "From: Paper Co\nInvoice No. 77\nSubtotal 10.00\nGST 0.50"

	inv, ok := newDetector().Detect(context.Background(), text).(model.Invoice)
	require.True(t, ok)
	assert.Equal(t, "Paper Co", inv.Vendor)
	assert.Equal(t, "77", inv.Number)
	assert.False(t, inv.Total.Valid)
	assert.True(t, dec("10.00").Equal(inv.Subtotal.Decimal))
	assert.True(t, dec("0.50").Equal(inv.Tax.Decimal))
}

func TestDetect_SpecializedLayoutIsBank(t *testing.T) {
	doc := newDetector().Detect(context.Background(), sobeysStatement+"\nTotal 76.09")
	bank, ok := doc.(model.BankStatement)
	require.True(t, ok, "got %T", doc)
	require.Len(t, bank.Transactions, 1)
	assert.Equal(t, "2025-09-17", bank.Transactions[0].Date)
}

func TestDetect_GenericStatementIsBank(t *testing.T) {
	text := `CAD Chequing
01/05/2025 COFFEE CO 3.75
01/06/2025 GROCER 41.20
Total 44.95`

	bank, ok := newDetector().Detect(context.Background(), text).(model.BankStatement)
	require.True(t, ok)
	assert.Equal(t, "CAD", bank.Currency)
	assert.Len(t, bank.Transactions, 2)
}

func TestDetect_RemittancePhrases(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantKind model.TransactionKind
		wantTxns int
		total    string
	}{
		{
			name: "card statement with minimum amount due",
			text: `VISA CLASSIC Statement
Minimum Amount Due: $25.00
01/05/2025 COFFEE CO 3.75
01/06/2025 GROCER 41.20
01/09/2025 HARDWARE 18.00`,
			wantKind: model.KindBank,
			wantTxns: 3,
		},
		{
			name: "card statement with remit to and amount due",
			text: `Remit to: Card Services, PO Box 400
Amount Due 44.95
01/05/2025 COFFEE CO 3.75
01/06/2025 GROCER 41.20`,
			wantKind: model.KindBank,
			wantTxns: 2,
		},
		{
			name: "bill to statement without a total",
			text: `Bill To: J. Smith
01/05/2025 COFFEE CO 3.75
01/06/2025 GROCER 41.20`,
			wantKind: model.KindBank,
			wantTxns: 2,
		},
		{
			name:     "amount due alone is not an invoice",
			text:     "Amount Due: 80.00\nThank you",
			wantKind: model.KindBank,
		},
		{
			name:     "remittance slip",
			text:     "HYDRO ONE\nRemit to: Hydro One, Toronto\nAmount Due: 80.00",
			wantKind: model.KindInvoice,
			total:    "80.00",
		},
		{
			name:     "remittance phrases without a total",
			text:     "Remit to: Hydro One\nAmount due on receipt",
			wantKind: model.KindBank,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newDetector().Detect(context.Background(), tt.text)
			require.Equal(t, tt.wantKind, doc.Kind(), "got %T", doc)
			switch d := doc.(type) {
			case model.BankStatement:
				assert.Len(t, d.Transactions, tt.wantTxns)
			case model.Invoice:
				require.True(t, d.Total.Valid)
				assert.True(t, dec(tt.total).Equal(d.Total.Decimal))
			}
		})
	}
}

func TestDetect_EmptyText(t *testing.T) {
	bank, ok := newDetector().Detect(context.Background(), "").(model.BankStatement)
	require.True(t, ok)
	assert.NotNil(t, bank.Transactions)
	assert.Empty(t, bank.Transactions)
}

func TestDetectTabular_OFX(t *testing.T) {
	bank, err := newDetector().DetectTabular(context.Background(), []byte(cardOFX), FormatOFX)
	require.NoError(t, err)
	assert.Equal(t, "CAD", bank.Currency)
	require.Len(t, bank.Transactions, 2)
	assert.Equal(t, "TIM HORTONS", bank.Transactions[0].Merchant, "sorted by date")
	assert.True(t, dec("8.75").Equal(bank.Transactions[0].Amount))
	assert.True(t, dec("42.10").Equal(bank.Transactions[1].Amount))
}

func TestDetectTabular_CSV(t *testing.T) {
	data := []byte("\xef\xbb\xbfDate,Description,Amount,Currency\n2025-01-03,GROCER,-20.00,cad\n2025-01-02,COFFEE SHOP,-4.50,cad\n")

	bank, err := newDetector().DetectTabular(context.Background(), data, FormatCSV)
	require.NoError(t, err)
	require.Len(t, bank.Transactions, 2)
	assert.Equal(t, "COFFEE SHOP", bank.Transactions[0].Merchant)
	assert.True(t, dec("4.50").Equal(bank.Transactions[0].Amount))
	assert.Equal(t, "CAD", bank.Transactions[0].Currency)
}

func TestTabularParser_CSVColumns(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		amounts []string
	}{
		{
			name:    "debit and credit columns",
			csv:     "Posted,Payee,Debit,Credit\n01/05/2025,HYDRO ONE,80.00,\n01/06/2025,PAYROLL,,1500.00\n",
			amounts: []string{"80.00", "-1500.00"},
		},
		{
			name:    "mixed signs stay as exported",
			csv:     "date,merchant,amount\n2025-01-02,COFFEE,4.50\n2025-01-03,REFUND,-2.00\n",
			amounts: []string{"4.50", "-2.00"},
		},
		{
			name:    "bank signs flipped",
			csv:     "Transaction Date,Memo,Amount\n2025-01-02,COFFEE,-4.50\n2025-01-03,BOOKS,\"-1,020.00\"\n",
			amounts: []string{"4.50", "1020.00"},
		},
		{
			name:    "rows without description or amount skipped",
			csv:     "date,description,amount\n2025-01-02,,4.50\n2025-01-03,LUNCH,\n2025-01-04,TAXI,17\n",
			amounts: []string{"17"},
		},
	}

	p := NewTabularParser(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := p.ParseCSV([]byte(tt.csv))
			require.NoError(t, err)
			require.Len(t, txs, len(tt.amounts))
			for i, want := range tt.amounts {
				assert.True(t, dec(want).Equal(txs[i].Amount), "row %d: %s", i, txs[i].Amount)
			}
		})
	}
}

func TestTabularParser_UnknownHeader(t *testing.T) {
	txs, err := NewTabularParser(nil).ParseCSV([]byte("foo,bar\n1,2\n"))
	require.NoError(t, err)
	assert.Empty(t, txs)
}

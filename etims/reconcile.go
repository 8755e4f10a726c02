package etims

import (
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

// normalizedLine is a line reduced to the precision the remote side
// preserves: whole-unit quantities and 2dp prices.
type normalizedLine struct {
	Qty   decimal.Decimal
	Price decimal.Decimal
	Total decimal.Decimal
}

func normalizeLine(qty, price decimal.Decimal) normalizedLine {
	roundedQty := qty.Abs().Round(0)
	roundedPrice := price.Round(2)
	return normalizedLine{
		Qty:   roundedQty,
		Price: roundedPrice,
		Total: roundedQty.Mul(roundedPrice).Round(2),
	}
}

func (n normalizedLine) equal(other normalizedLine) bool {
	return n.Qty.Equal(other.Qty) && n.Price.Equal(other.Price) && n.Total.Equal(other.Total)
}

// snapshotLines picks the side of the remote document to compare: credit
// note lines when the document carries them, sales lines otherwise.
func snapshotLines(snapshot *InvoiceSnapshot) ([]RemoteSaleLine, bool) {
	if snapshot.SalesCreditNoteLines != nil {
		return snapshot.SalesCreditNoteLines, true
	}
	return snapshot.SalesInvoiceLines, false
}

// MatchInvoiceData compares the local document against the remote
// snapshot: same line count, same rounded grand total, and every local
// line present remotely as an order-independent multiset.
func MatchInvoiceData(invoice *models.SalesInvoice, snapshot *InvoiceSnapshot) bool {
	remoteLines, isCreditNote := snapshotLines(snapshot)
	if len(invoice.Lines) != len(remoteLines) {
		return false
	}

	localTotal := decimal.Zero
	localNormalized := make([]normalizedLine, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		unitPrice := lineUnitPrice(line)
		localTotal = localTotal.Add(unitPrice.Mul(line.Qty.Abs()))
		localNormalized = append(localNormalized, normalizeLine(line.Qty, unitPrice))
	}

	remoteTotal := snapshot.TotalGrossAmount
	if isCreditNote {
		remoteTotal = snapshot.CRNTotalAmount
	}
	if !localTotal.Round(0).Equal(remoteTotal.Abs().Round(0)) {
		return false
	}

	remaining := make([]normalizedLine, 0, len(remoteLines))
	for _, line := range remoteLines {
		remaining = append(remaining, normalizeLine(line.Quantity, line.PriceInclusiveTax))
	}
	for _, local := range localNormalized {
		found := -1
		for idx, remote := range remaining {
			if local.equal(remote) {
				found = idx
				break
			}
		}
		if found < 0 {
			return false
		}
		remaining = append(remaining[:found], remaining[found+1:]...)
	}
	return true
}

// MismatchAction is what the orchestrator does after a failed match.
type MismatchAction int

const (
	// MismatchActionSkip leaves the document alone (already reversed).
	MismatchActionSkip MismatchAction = iota
	// MismatchActionStop halts after the revision ceiling is reached.
	MismatchActionStop
	// MismatchActionRevise bumps the revision and resubmits, reversing
	// the mismatched remote copy with a credit note first.
	MismatchActionRevise
)

// DecideMismatch applies the revision policy after a reconciliation
// mismatch.
func DecideMismatch(invoice *models.SalesInvoice, settings *models.EtimsSettings) MismatchAction {
	if invoice.Status == models.InvoiceStatusCreditNoteIssued {
		return MismatchActionSkip
	}
	nextRevision := invoice.RevisionCount + 1
	if settings.MaxAllowedRevisions > 0 && nextRevision > settings.MaxAllowedRevisions {
		return MismatchActionStop
	}
	return MismatchActionRevise
}

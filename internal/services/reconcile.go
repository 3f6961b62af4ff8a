package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/models"
)

type joinEntry struct {
	key      string
	local    *models.Transaction
	remote   *models.SettlementRecord
	claimed  *decimal.Decimal
	conflict bool // the gateway reported success on a failed row
}

// Reconcile outer-joins the ledger with the gateway settlements through a
// single index keyed by transaction id. Settlements without a known id are
// matched by gateway reference. Failed and pending ledger rows that the
// gateway never settled are expected and left out of the report, unless the
// gateway settled them or reported them successful.
func Reconcile(reportID string, local []models.Transaction, settlements []models.SettlementRecord, flagged []models.WebhookEvent) (models.ReportSummary, []models.Discrepancy) {
	index := make(map[string]*joinEntry, len(local)+len(settlements))
	byRef := make(map[string]string, len(local))
	order := make([]string, 0, len(local)+len(settlements))

	for i := range local {
		tx := &local[i]
		index[tx.ID] = &joinEntry{key: tx.ID, local: tx}
		order = append(order, tx.ID)
		if tx.GatewayReference != "" {
			byRef[tx.GatewayReference] = tx.ID
		}
	}
	for i := range settlements {
		rec := &settlements[i]
		key := rec.TransactionID
		if _, ok := index[key]; !ok || key == "" {
			if id, ok := byRef[rec.GatewayReference]; ok {
				key = id
			}
		}
		if key == "" {
			key = rec.GatewayReference
		}
		e, ok := index[key]
		if !ok {
			e = &joinEntry{key: key}
			index[key] = e
			order = append(order, key)
		}
		if e.remote != nil {
			// a second settlement row for one charge is summed
			sum := e.remote.Amount.Add(rec.Amount)
			merged := *e.remote
			merged.Amount = sum
			e.remote = &merged
			continue
		}
		e.remote = rec
	}
	for _, ev := range flagged {
		e, ok := index[ev.TransactionID]
		if !ok {
			continue
		}
		if ev.AmountMismatch && ev.ClaimedAmount != nil {
			e.claimed = ev.ClaimedAmount
		}
		if ev.StatusConflict {
			e.conflict = true
			if e.claimed == nil {
				e.claimed = ev.ClaimedAmount
			}
		}
	}

	var (
		sum   models.ReportSummary
		out   []models.Discrepancy
		total = decimal.Zero
	)
	settled := decimal.Zero
	for _, key := range order {
		e := index[key]
		switch {
		case e.local != nil && e.remote != nil:
			sum.TotalTransactions++
			total = total.Add(e.local.Amount)
			gwAmount := e.remote.Amount
			if !e.local.Status.Settled() {
				out = append(out, discrepancy(reportID, key, models.DiscrepancyStatusMismatch, &e.local.Amount, &gwAmount))
				continue
			}
			if gwAmount.Equal(e.local.Amount) && e.claimed != nil && !e.claimed.Equal(e.local.Amount) {
				gwAmount = *e.claimed
			}
			if gwAmount.Equal(e.local.Amount) {
				sum.MatchedTransactions++
				settled = settled.Add(e.local.Amount)
				continue
			}
			out = append(out, discrepancy(reportID, key, models.DiscrepancyAmountMismatch, &e.local.Amount, &gwAmount))
		case e.local != nil && e.conflict && !e.local.Status.Settled():
			sum.TotalTransactions++
			total = total.Add(e.local.Amount)
			out = append(out, discrepancy(reportID, key, models.DiscrepancyStatusMismatch, &e.local.Amount, e.claimed))
		case e.local != nil:
			if !e.local.Status.Settled() {
				continue
			}
			sum.TotalTransactions++
			total = total.Add(e.local.Amount)
			out = append(out, discrepancy(reportID, key, models.DiscrepancyMissingInGateway, &e.local.Amount, nil))
		default:
			sum.TotalTransactions++
			total = total.Add(e.remote.Amount)
			out = append(out, discrepancy(reportID, key, models.DiscrepancyMissingInSystem, nil, &e.remote.Amount))
		}
	}

	sum.UnmatchedTransactions = sum.TotalTransactions - sum.MatchedTransactions
	sum.TotalAmount = total
	sum.SettledAmount = settled
	sum.PendingAmount = total.Sub(settled)

	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	if out == nil {
		out = []models.Discrepancy{}
	}
	return sum, out
}

func discrepancy(reportID, txID string, t models.DiscrepancyType, system, gw *decimal.Decimal) models.Discrepancy {
	d := models.Discrepancy{ReportID: reportID, TransactionID: txID, Type: t}
	if system != nil {
		v := *system
		d.SystemAmount = &v
	}
	if gw != nil {
		v := *gw
		d.GatewayAmount = &v
	}
	return d
}

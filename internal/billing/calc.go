package billing

// CalculateLine recomputes a line amount. Trade returns flip the sign.
func CalculateLine(line *Line) {
	sign := 1.0
	if line.IsReturn {
		sign = -1.0
	}
	line.Amount = line.Qty * line.UnitPrice * sign
}

// CalculateDocument recomputes the document header totals from its lines.
// Recalculating an unchanged document reproduces identical totals; every
// figure derives only from the lines and the header rates, never from a
// previous run.
func CalculateDocument(doc *Document) {
	var gross float64
	for i := range doc.Lines {
		CalculateLine(&doc.Lines[i])
		gross += doc.Lines[i].Amount
	}
	doc.Gross = gross
	doc.Tax = gross * doc.TaxRate / 100
	doc.Grand = doc.Gross + doc.Tax
	doc.Net = doc.Grand - doc.HeaderDiscount
	if doc.Type.CreditClass() {
		doc.Credit = doc.Net
		doc.Debit = 0
	} else {
		doc.Debit = doc.Net
		doc.Credit = 0
	}
}

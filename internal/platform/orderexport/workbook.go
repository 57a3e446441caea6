// Package orderexport renders merchant orders as an xlsx workbook.
package orderexport

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/whatsapp"
)

// ContentType is the media type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	ordersSheet = "Orders"
	linesSheet  = "Lines"
	timeLayout  = "2006-01-02 15:04:05"
)

var (
	orderHeaders = []string{"Number", "Created", "Status", "Customer", "Phone", "Note", "Items", "Total", "Currency"}
	lineHeaders  = []string{"Order", "Product", "Options", "Quantity", "Unit price", "Line total"}
)

// Workbook builds an export of orders. Amounts are written in major units using the currency's
// minor-unit scale; times are rendered in loc (UTC when nil).
func Workbook(orders []domain.Order, currency string, loc *time.Location) ([]byte, error) {
	scale, err := whatsapp.Scale(currency)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	numberFormat := "#,##0"
	if scale > 0 {
		numberFormat += "." + strings.Repeat("0", scale)
	}
	amount := func(cell *xlsx.Cell, minor int64) {
		cell.SetFloatWithFormat(decimal.New(minor, -int32(scale)).InexactFloat64(), numberFormat)
	}

	file := xlsx.NewFile()
	orderSheet, err := file.AddSheet(ordersSheet)
	if err != nil {
		return nil, fmt.Errorf("orderexport: add sheet: %w", err)
	}
	lineSheet, err := file.AddSheet(linesSheet)
	if err != nil {
		return nil, fmt.Errorf("orderexport: add sheet: %w", err)
	}
	header(orderSheet, orderHeaders)
	header(lineSheet, lineHeaders)

	for _, order := range orders {
		row := orderSheet.AddRow()
		row.AddCell().SetInt64(order.Number)
		row.AddCell().SetValue(order.CreatedAt.In(loc).Format(timeLayout))
		row.AddCell().SetValue(string(order.Status))
		row.AddCell().SetValue(order.Customer.Name)
		row.AddCell().SetValue(order.Customer.Phone)
		row.AddCell().SetValue(order.Customer.Note)
		items := 0
		for _, line := range order.Lines {
			items += line.Quantity
		}
		row.AddCell().SetInt(items)
		amount(row.AddCell(), order.Total)
		row.AddCell().SetValue(order.Currency)

		for _, line := range order.Lines {
			lr := lineSheet.AddRow()
			lr.AddCell().SetInt64(order.Number)
			lr.AddCell().SetValue(line.ProductName)
			lr.AddCell().SetValue(optionSummary(line.Options))
			lr.AddCell().SetInt(line.Quantity)
			amount(lr.AddCell(), line.UnitPrice)
			amount(lr.AddCell(), line.LineTotal)
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("orderexport: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func header(sheet *xlsx.Sheet, titles []string) {
	row := sheet.AddRow()
	for _, title := range titles {
		cell := row.AddCell()
		cell.SetValue(title)
		style := xlsx.NewStyle()
		style.Font.Bold = true
		style.ApplyFont = true
		cell.SetStyle(style)
	}
}

func optionSummary(options []domain.OrderLineOption) string {
	parts := make([]string, 0, len(options))
	for _, opt := range options {
		parts = append(parts, opt.GroupName+": "+opt.OptionLabel)
	}
	return strings.Join(parts, "; ")
}

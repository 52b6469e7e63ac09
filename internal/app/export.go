package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"energy-ingest/internal/model"
)

// Export renders stored settlement prices as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := model.DateOnly(time.Now().UTC())
	if opts.To != nil {
		to = model.DateOnly(*opts.To)
	}

	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = model.DateOnly(*opts.From)
	}

	if from.After(to) {
		return errors.New("from must not be after to")
	}

	points, err := store.ListSettlementPricesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("no settlement prices found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting settlement prices")

	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePricesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []model.SettlementPricePoint, max int) []model.SettlementPricePoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[:1]
	}

	result := make([]model.SettlementPricePoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePricesCSV(path string, points []model.SettlementPricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"settlement_date", "settlement_period", "system_sell_price", "system_buy_price", "price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		record := []string{
			point.SettlementDate.Format("2006-01-02"),
			strconv.Itoa(point.SettlementPeriod),
			point.SystemSellPrice.StringFixed(2),
			point.SystemBuyPrice.StringFixed(2),
			point.Price.StringFixed(2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePricesPNG(path string, points []model.SettlementPricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	ssp := make([]float64, len(points))
	sbp := make([]float64, len(points))
	net := make([]float64, len(points))

	for i, point := range points {
		x[i] = model.PeriodStart(point.SettlementDate, point.SettlementPeriod)
		ssp[i] = point.SystemSellPrice.InexactFloat64()
		sbp[i] = point.SystemBuyPrice.InexactFloat64()
		net[i] = point.Price.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (GBP/MWh)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "System Sell",
				XValues: x,
				YValues: ssp,
			},
			chart.TimeSeries{
				Name:    "System Buy",
				XValues: x,
				YValues: sbp,
			},
			chart.TimeSeries{
				Name:    "Settlement Index",
				XValues: x,
				YValues: net,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

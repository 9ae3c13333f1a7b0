package dashboard

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketpulse/internal/pipeline"
	"marketpulse/logger"
	"marketpulse/reader/yahoo"
)

const dateLayout = "2006-01-02"

type historyQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

type correlationQuery struct {
	Market      string `form:"market,default=us" binding:"oneof=us india"`
	Years       int    `form:"years" binding:"gte=0"`
	Assets      string `form:"assets"`
	DropMissing bool   `form:"drop_missing,default=true"`
}

type equityQuery struct {
	Period          string  `form:"period,default=1mo"`
	SMA             int     `form:"sma" binding:"gte=0,lte=200"`
	EMA             int     `form:"ema" binding:"gte=0,lte=200"`
	BollingerWindow int     `form:"bollinger" binding:"gte=0,lte=50"`
	BollingerStd    float64 `form:"std,default=2" binding:"gte=0,lte=3"`
}

type indexQuery struct {
	Period string `form:"period,default=1y"`
	Format string `form:"format,default=json" binding:"oneof=json csv"`
}

type pairQuery struct {
	Stock  string `form:"stock" binding:"required"`
	Index  string `form:"index,default=NIFTY 50"`
	Period string `form:"period,default=1y"`
}

type volatilityQuery struct {
	Period    string  `form:"period,default=1y"`
	Window    int     `form:"window,default=20" binding:"gte=2,lte=90"`
	BBWindow  int     `form:"bb_window,default=20" binding:"gte=2,lte=50"`
	BBStd     float64 `form:"bb_std,default=2" binding:"gt=0,lte=3"`
	Threshold float64 `form:"threshold,default=50" binding:"gte=0"`
	Format    string  `form:"format,default=json" binding:"oneof=json csv"`
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", pipeline.ErrInvalidParameter, v)
	}
	return &d, nil
}

// respondError maps a pipeline failure onto the response. Request problems
// become 400 warnings, unknown names 404 and everything else is treated as a
// provider failure.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	key := "error"
	switch {
	case errors.Is(err, pipeline.ErrUnknownAsset):
		status = http.StatusNotFound
	case errors.Is(err, yahoo.ErrNoData):
		status, key = http.StatusNotFound, "warning"
	case pipeline.IsUserError(err):
		status, key = http.StatusBadRequest, "warning"
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}

	entry := s.log.WithComponent("dashboard").WithError(err).WithFields(logger.Fields{
		"path":   c.Request.URL.Path,
		"status": status,
	})
	if status == http.StatusBadGateway {
		entry.Warn("request failed")
	} else {
		entry.Debug("request rejected")
	}
	c.AbortWithStatusJSON(status, gin.H{key: err.Error()})
}

func (s *Server) bindQuery(c *gin.Context, q interface{}) bool {
	if err := c.ShouldBindQuery(q); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"warning": err.Error()})
		return false
	}
	return true
}

func (s *Server) handleAssets(c *gin.Context) {
	dict := s.cot.Dictionary()
	c.JSON(http.StatusOK, gin.H{
		"assets":   dict.Assets(),
		"shadowed": dict.Shadowed(),
	})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	res, err := s.cot.Snapshot(c.Request.Context(), splitList(c.Query("assets")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleHistory(c *gin.Context) {
	var q historyQuery
	if !s.bindQuery(c, &q) {
		return
	}
	from, err := parseDate(q.From)
	if err != nil {
		s.respondError(c, err)
		return
	}
	to, err := parseDate(q.To)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.cot.History(c.Request.Context(), c.Param("asset"), from, to)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCorrelation(c *gin.Context) {
	var q correlationQuery
	if !s.bindQuery(c, &q) {
		return
	}
	res, err := s.market.Correlation(c.Request.Context(), pipeline.CorrelationRequest{
		Market:      q.Market,
		Years:       q.Years,
		Assets:      splitList(q.Assets),
		DropMissing: q.DropMissing,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleEquity(c *gin.Context) {
	var q equityQuery
	if !s.bindQuery(c, &q) {
		return
	}
	res, err := s.market.Equity(c.Request.Context(), pipeline.EquityRequest{
		Ticker:          c.Param("ticker"),
		Period:          q.Period,
		SMAWindow:       q.SMA,
		EMAWindow:       q.EMA,
		BollingerWindow: q.BollingerWindow,
		BollingerStd:    q.BollingerStd,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleIndex(c *gin.Context) {
	var q indexQuery
	if !s.bindQuery(c, &q) {
		return
	}
	res, err := s.market.Index(c.Request.Context(), c.Param("name"), q.Period)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if q.Format == "csv" {
		rows := make([][]string, 0, len(res.Rows))
		for _, r := range res.Rows {
			rows = append(rows, []string{r.Date.Format(dateLayout), formatFloat(r.Close), formatOpt(r.AdjClose), formatOpt(r.Volume)})
		}
		name := strings.ReplaceAll(res.Name, " ", "") + "_data" + res.Period + ".csv"
		s.writeCSV(c, name, []string{"Date", "Close", "AdjClose", "Volume"}, rows)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handlePair(c *gin.Context) {
	var q pairQuery
	if !s.bindQuery(c, &q) {
		return
	}
	res, err := s.market.Pair(c.Request.Context(), q.Stock, q.Index, q.Period)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleVolatility(c *gin.Context) {
	var q volatilityQuery
	if !s.bindQuery(c, &q) {
		return
	}
	res, err := s.market.Volatility(c.Request.Context(), pipeline.VolatilityRequest{
		Ticker:     c.Param("ticker"),
		Period:     q.Period,
		Window:     q.Window,
		BandWindow: q.BBWindow,
		BandStd:    q.BBStd,
		Threshold:  q.Threshold,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if q.Format == "csv" {
		rows := make([][]string, 0, len(res.Rows))
		for _, r := range res.Rows {
			rows = append(rows, []string{
				r.Date.Format(dateLayout),
				formatFloat(r.Close),
				formatOpt(r.DailyReturn),
				formatOpt(r.Volatility),
				formatOpt(r.MiddleBand),
				formatOpt(r.UpperBand),
				formatOpt(r.LowerBand),
			})
		}
		header := []string{"Date", "Close", "DailyReturn", "Volatility", "MiddleBand", "UpperBand", "LowerBand"}
		s.writeCSV(c, res.Ticker+"_volatility_data.csv", header, rows)
		return
	}
	c.JSON(http.StatusOK, res)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOpt(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func (s *Server) writeCSV(c *gin.Context, filename string, header []string, rows [][]string) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	err := w.Write(header)
	if err == nil {
		err = w.WriteAll(rows)
	}
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Warn("failed to write csv")
	}
}

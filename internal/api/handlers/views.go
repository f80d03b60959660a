package handlers

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydranamed/internal/api/models"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
)

// ListViews returns the views of the production generation.
// @Summary List views
// @Description Returns the views of the production generation in match order
// @Tags views
// @Produce json
// @Success 200 {object} models.ViewListResponse
// @Security ApiKeyAuth
// @Router /views [get]
func (h *Handler) ListViews(c *gin.Context) {
	l := h.ctrl.Views()
	defer l.Release()

	views := l.Views()
	out := make([]models.ViewSummary, 0, len(views))
	for _, v := range views {
		out = append(out, viewSummary(v))
	}
	c.JSON(http.StatusOK, models.ViewListResponse{
		Generation: l.ID().String(),
		Views:      out,
		Count:      len(out),
	})
}

// ListZones returns the zones of one view.
// @Summary List zones of a view
// @Description Returns the zones of one view of the production generation
// @Tags views
// @Produce json
// @Param view path string true "View name"
// @Param class query string false "View class (IN, CH, HS)"
// @Success 200 {object} models.ZoneListResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /views/{view}/zones [get]
func (h *Handler) ListZones(c *gin.Context) {
	l := h.ctrl.Views()
	defer l.Release()

	v, ok := h.findView(c, l)
	if !ok {
		return
	}
	zones := v.Zones()
	out := make([]models.ZoneSummary, 0, len(zones))
	for _, z := range zones {
		out = append(out, zoneSummary(z))
	}
	c.JSON(http.StatusOK, models.ZoneListResponse{View: v.Name(), Zones: out, Count: len(out)})
}

// GetZone returns one zone with its records.
// @Summary Get zone
// @Description Returns a zone of a view with all of its records
// @Tags views
// @Produce json
// @Param view path string true "View name"
// @Param zone path string true "Zone origin"
// @Param class query string false "View class (IN, CH, HS)"
// @Success 200 {object} models.ZoneDetailResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /views/{view}/zones/{zone} [get]
func (h *Handler) GetZone(c *gin.Context) {
	l := h.ctrl.Views()
	defer l.Release()

	v, ok := h.findView(c, l)
	if !ok {
		return
	}
	z, err := v.FindZone(c.Param("zone"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "zone not found"})
		return
	}

	resp := models.ZoneDetailResponse{
		ZoneSummary: zoneSummary(z),
		View:        v.Name(),
		Records:     []models.ZoneRecord{},
	}
	if db := z.Database(); db != nil {
		for _, rr := range db.Records() {
			resp.Records = append(resp.Records, zoneRecord(rr))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// DumpCache writes the unexpired positive entries of a view's cache in master
// file format. The output can be used as options.cache_file.
// @Summary Dump view cache
// @Description Writes the view cache in master file format
// @Tags views
// @Produce plain
// @Param view path string true "View name"
// @Param class query string false "View class (IN, CH, HS)"
// @Success 200 {string} string "master file"
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /views/{view}/cache [get]
func (h *Handler) DumpCache(c *gin.Context) {
	l := h.ctrl.Views()
	defer l.Release()

	v, ok := h.findView(c, l)
	if !ok {
		return
	}
	vc := v.Cache()
	if vc == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "view has no cache"})
		return
	}

	var buf bytes.Buffer
	if err := vc.Dump(&buf); err != nil {
		h.logger.Error("cache dump failed", "view", v.String(), "err", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

// findView resolves the :view parameter, writing the error response when it
// does not name a view.
func (h *Handler) findView(c *gin.Context, l *view.List) (*view.View, bool) {
	name := c.Param("view")
	class := uint16(0)
	if raw := c.Query("class"); raw != "" {
		cl, ok := dns.StringToClass[strings.ToUpper(raw)]
		if !ok {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unknown class " + raw})
			return nil, false
		}
		class = cl
	}
	for _, v := range l.Views() {
		if v.Name() == name && (class == 0 || v.Class() == class) {
			return v, true
		}
	}
	c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "view not found"})
	return nil, false
}

func viewSummary(v *view.View) models.ViewSummary {
	return models.ViewSummary{
		Name:      v.Name(),
		Class:     dns.ClassToString[v.Class()],
		State:     v.State().String(),
		Zones:     v.ZoneCount(),
		Recursion: v.Resolver() != nil,
		Keys:      v.Keys().Len(),
	}
}

func zoneSummary(z *zone.Zone) models.ZoneSummary {
	s := models.ZoneSummary{
		Name:  z.Origin(),
		Class: dns.ClassToString[z.Class()],
	}
	if st := z.Settings(); st != nil {
		s.Type = st.Type.String()
		s.FilePath = st.File
		s.Database = st.Database
	}
	if db := z.Database(); db != nil {
		s.Loaded = true
		s.Serial = db.Serial()
		s.RecordCount = db.Len()
	}
	return s
}

// zoneRecord splits a record's presentation form into header and rdata.
func zoneRecord(rr dns.RR) models.ZoneRecord {
	hdr := rr.Header()
	value := strings.TrimPrefix(rr.String(), hdr.String())
	return models.ZoneRecord{
		Name:  hdr.Name,
		TTL:   hdr.Ttl,
		Type:  dns.TypeToString[hdr.Rrtype],
		Value: value,
	}
}

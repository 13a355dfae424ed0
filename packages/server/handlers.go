package server

import (
	"net/http"
	"strings"

	"txsim-server/packages/common"
	"txsim-server/packages/report"
	"txsim-server/packages/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Control actions accepted on POST /test-cases/:id/:action. None of them
// change anything server-side; runs are driven by the client.
var controlActions = map[string]bool{
	"start":   true,
	"stop":    true,
	"pause":   true,
	"restart": true,
}

type createCardRequest struct {
	Title string `json:"title" binding:"required,notblank"`
}

func registerValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

func (h *Handler) Health(c *gin.Context) {
	common.JSON(c, http.StatusOK, gin.H{
		"status": "healthy",
	})
}

func (h *Handler) ListTestCases(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	common.JSON(c, http.StatusOK, records)
}

func (h *Handler) GetTestCase(c *gin.Context) {
	detail, ok := h.lookup(c)
	if !ok {
		return
	}
	common.JSON(c, http.StatusOK, detail)
}

func (h *Handler) CreateTestCase(c *gin.Context) {
	var fields store.RecordFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.log.Warn("Invalid test case body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	rec, err := h.store.Create(c.Request.Context(), fields)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("Test case created", zap.Int("test_id", rec.ID))
	common.JSON(c, http.StatusCreated, rec)
}

func (h *Handler) UpdateTestCase(c *gin.Context) {
	id, err := common.ParseID(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	var patch store.RecordPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.log.Warn("Invalid test case body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	rec, err := h.store.Update(c.Request.Context(), id, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("Test case updated", zap.Int("test_id", rec.ID))
	common.JSON(c, http.StatusOK, rec)
}

func (h *Handler) ControlTestCase(c *gin.Context) {
	action := c.Param("action")
	if !controlActions[action] {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown action"})
		return
	}

	detail, ok := h.lookup(c)
	if !ok {
		return
	}
	h.log.Info("Test control requested",
		zap.Int("test_id", detail.ID),
		zap.String("action", action),
	)
	common.JSON(c, http.StatusOK, detail)
}

func (h *Handler) ListCards(c *gin.Context) {
	cards, err := h.store.ListCards(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	common.JSON(c, http.StatusOK, cards)
}

func (h *Handler) CreateCard(c *gin.Context) {
	var req createCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid card body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	card, err := h.store.CreateCard(c.Request.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.JSON(c, http.StatusCreated, card)
}

// GetReport answers with the report as JSON, or as plain text when
// ?format=text is given.
func (h *Handler) GetReport(c *gin.Context) {
	detail, ok := h.lookup(c)
	if !ok {
		return
	}
	rep := report.Build(detail, h.now())

	if c.Query("format") != "text" {
		common.JSON(c, http.StatusOK, rep)
		return
	}

	var b strings.Builder
	if err := rep.Render(&b); err != nil {
		h.fail(c, err)
		return
	}
	c.String(http.StatusOK, b.String())
}

// lookup resolves the :id parameter, answering the request itself on
// failure.
func (h *Handler) lookup(c *gin.Context) (*store.TestCaseDetail, bool) {
	id, err := common.ParseID(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	detail, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return detail, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := common.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.Error(err))
	} else {
		h.log.Warn("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": common.PublicMessage(err)})
}

package http

import (
	"errors"
	"net/http"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/internal/infrastructure/middleware"
	apperrors "spacecast/pkg/errors"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	roomService ports.RoomService
	joinService ports.JoinService
}

func NewRoomHandler(roomService ports.RoomService, joinService ports.JoinService) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
		joinService: joinService,
	}
}

func (h *RoomHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms", h.ListLiveRooms)
	api.GET("/rooms/:name", h.GetRoom)
	api.POST("/rooms/:name/live", h.GoLive)
	api.POST("/rooms/:name/end", h.EndRoom)

	api.POST("/rooms/:name/join", h.Join)
	api.POST("/rooms/:name/leave", h.Leave)
	api.POST("/rooms/:name/hand", h.RaiseHand)
	api.POST("/rooms/:name/role", h.ChangeRole)
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name            string `json:"name" binding:"required"`
		Title           string `json:"title"`
		Category        string `json:"category"`
		Visibility      string `json:"visibility"`
		InviteMode      string `json:"invite_mode"`
		MaxParticipants int    `json:"max_participants" binding:"min=0,max=10000"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wallet := middleware.CallerWallet(c)
	if wallet == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), ports.CreateRoomParams{
		Name:            domain.RoomName(req.Name),
		HostWallet:      wallet,
		Title:           req.Title,
		Category:        req.Category,
		Visibility:      domain.Visibility(req.Visibility),
		InviteMode:      domain.InviteMode(req.InviteMode),
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), domain.RoomName(c.Param("name")))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *RoomHandler) ListLiveRooms(c *gin.Context) {
	rooms, err := h.roomService.ListLive(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) GoLive(c *gin.Context) {
	wallet := middleware.CallerWallet(c)
	if wallet == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := h.roomService.GoLive(c.Request.Context(), domain.RoomName(c.Param("name")), wallet); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "live"})
}

func (h *RoomHandler) EndRoom(c *gin.Context) {
	wallet := middleware.CallerWallet(c)
	if wallet == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := h.roomService.EndRoom(c.Request.Context(), domain.RoomName(c.Param("name")), wallet); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *RoomHandler) Join(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name" binding:"required"`
		Role        string `json:"role"`
		Identity    string `json:"identity"`
		UserID      string `json:"user_id"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.joinService.Join(c.Request.Context(), ports.JoinRequest{
		Room:          domain.RoomName(c.Param("name")),
		DisplayName:   req.DisplayName,
		RequestedRole: domain.Role(req.Role),
		Wallet:        middleware.CallerWallet(c),
		UserID:        domain.UserID(req.UserID),
		Identity:      req.Identity,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":         result.Credential.Token,
		"transport_url": result.Credential.TransportURL,
		"expires_at":    result.Credential.ExpiresAt.Unix(),
		"session_id":    result.Participant.SessionID,
		"identity":      result.Participant.Identity,
		"role":          result.Participant.Role,
	})
}

func (h *RoomHandler) Leave(c *gin.Context) {
	var req struct {
		Identity string `json:"identity"`
	}
	// Leave without a body is fine for wallet-authenticated callers.
	c.ShouldBindJSON(&req)

	ref := ports.ParticipantRef{
		Wallet:   middleware.CallerWallet(c),
		Identity: req.Identity,
	}
	if ref.Wallet == "" && ref.Identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity or authentication required"})
		return
	}

	if err := h.joinService.Leave(c.Request.Context(), domain.RoomName(c.Param("name")), ref); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *RoomHandler) RaiseHand(c *gin.Context) {
	var req struct {
		Identity string `json:"identity"`
		Raised   *bool  `json:"raised" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref := ports.ParticipantRef{
		Wallet:   middleware.CallerWallet(c),
		Identity: req.Identity,
	}
	if ref.Wallet == "" && ref.Identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity or authentication required"})
		return
	}

	if err := h.joinService.RaiseHand(c.Request.Context(), domain.RoomName(c.Param("name")), ref, *req.Raised); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *RoomHandler) ChangeRole(c *gin.Context) {
	var req struct {
		Identity string `json:"identity"`
		Wallet   string `json:"wallet"`
		Role     string `json:"role" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := middleware.CallerWallet(c)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	target := ports.ParticipantRef{
		Wallet:   domain.WalletAddress(req.Wallet),
		Identity: req.Identity,
	}
	err := h.joinService.ChangeRole(c.Request.Context(), domain.RoomName(c.Param("name")), caller, target, domain.Role(req.Role))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// renderError maps domain sentinels to the join error taxonomy; everything
// else goes through the error middleware.
func (h *RoomHandler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": string(apperrors.ErrCodeNotFound), "message": err.Error()})
	case errors.Is(err, domain.ErrParticipantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": string(apperrors.ErrCodeNotFound), "message": err.Error()})
	case errors.Is(err, domain.ErrRoomNotLive):
		c.JSON(http.StatusConflict, gin.H{"error": string(apperrors.ErrCodeNotLive), "message": err.Error()})
	case errors.Is(err, domain.ErrRoomEnded):
		c.JSON(http.StatusGone, gin.H{"error": string(apperrors.ErrCodeNotLive), "message": err.Error()})
	case errors.Is(err, domain.ErrRoomAtCapacity):
		c.JSON(http.StatusConflict, gin.H{"error": string(apperrors.ErrCodeAtCapacity), "message": err.Error()})
	case errors.Is(err, domain.ErrRoomExists):
		c.JSON(http.StatusConflict, gin.H{"error": string(apperrors.ErrCodeConflict), "message": err.Error()})
	case errors.Is(err, domain.ErrNotHost):
		c.JSON(http.StatusForbidden, gin.H{"error": string(apperrors.ErrCodeForbidden), "message": err.Error()})
	case errors.Is(err, domain.ErrCredentialUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": string(apperrors.ErrCodeServiceUnavailable), "message": err.Error()})
	default:
		if appErr := apperrors.Get(err); appErr != nil {
			c.JSON(appErr.HTTPStatus, gin.H{"error": string(appErr.Code), "message": appErr.Message})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": string(apperrors.ErrCodeInvalidInput), "message": err.Error()})
	}
}

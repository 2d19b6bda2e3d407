package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/gateway"
)

// RESTHandler exposes the game operations over plain HTTP. Requests run through the
// same gateway as sockets, so timers and room broadcasts behave identically.
type RESTHandler struct {
	gateway *gateway.Gateway
	log     zerolog.Logger
}

func NewRESTHandler(gw *gateway.Gateway, log zerolog.Logger) *RESTHandler {
	return &RESTHandler{gateway: gw, log: log}
}

func (h *RESTHandler) Register(r gin.IRouter) {
	r.POST("/hosts", h.createHost)
	r.POST("/rooms", h.createRoom)
	r.POST("/rooms/join", h.joinRoom)
	r.GET("/rooms/:id", h.getRoom)
	r.GET("/rooms/:id/ranking", h.getRanking)
	r.GET("/rooms/:id/events", h.streamEvents)
	r.POST("/rooms/:id/start", h.hostAction(h.gateway.StartGame))
	r.POST("/rooms/:id/next", h.hostAction(h.gateway.NextQuestion))
	r.POST("/rooms/:id/force-result", h.hostAction(h.gateway.ForceResult))
	r.POST("/rooms/:id/end", h.hostAction(h.gateway.EndGame))
	r.POST("/rooms/:id/answer", h.submitAnswer)
}

type hostResponse struct {
	HostID    string `json:"hostId"`
	HostToken string `json:"hostToken"`
}

func (h *RESTHandler) createHost(c *gin.Context) {
	id := uuid.NewString()
	token, err := h.gateway.Issue(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hostResponse{HostID: id, HostToken: token})
}

type createRoomRequest struct {
	Questions []domain.Question `json:"questions"`
	HostID    string            `json:"hostId"`
}

type createRoomResponse struct {
	RoomID    string      `json:"roomId"`
	Code      string      `json:"code"`
	HostToken string      `json:"hostToken"`
	Room      domain.Room `json:"room"`
}

func (h *RESTHandler) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, domain.BadRequest("malformed request body"))
		return
	}
	res, err := h.gateway.CreateRoom(c.Request.Context(), h.gateway.Detached("", ""), req.Questions, req.HostID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createRoomResponse{
		RoomID:    res.Room.ID,
		Code:      res.Room.Code,
		HostToken: res.HostToken,
		Room:      res.Room,
	})
}

type joinRoomRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type joinRoomResponse struct {
	ParticipantID string      `json:"participantId"`
	RoomID        string      `json:"roomId"`
	Token         string      `json:"token"`
	Room          domain.Room `json:"room"`
}

func (h *RESTHandler) joinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, domain.BadRequest("malformed request body"))
		return
	}
	res, err := h.gateway.JoinRoom(c.Request.Context(), h.gateway.Detached("", ""), req.Code, req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, joinRoomResponse{
		ParticipantID: res.Participant.ID,
		RoomID:        res.Room.ID,
		Token:         res.Token,
		Room:          res.Room,
	})
}

func (h *RESTHandler) getRoom(c *gin.Context) {
	room, err := h.gateway.Room(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *RESTHandler) getRanking(c *gin.Context) {
	ranking, err := h.gateway.Ranking(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ranking)
}

type hostActionRequest struct {
	HostID string `json:"hostId"`
}

type hostActionFunc func(ctx context.Context, c *gateway.Client, roomID, hostCredential string) (domain.Room, error)

func (h *RESTHandler) hostAction(action hostActionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req hostActionRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				h.writeError(c, domain.BadRequest("malformed request body"))
				return
			}
		}
		room, err := action(c.Request.Context(), h.gateway.Detached("", ""), c.Param("id"), req.HostID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, room)
	}
}

type submitAnswerRequest struct {
	ParticipantID string `json:"participantId"`
	QuestionIndex *int   `json:"questionIndex"`
	OptionIndex   *int   `json:"optionIndex"`
}

func (h *RESTHandler) submitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, domain.BadRequest("malformed request body"))
		return
	}
	if req.OptionIndex == nil {
		h.writeError(c, domain.BadRequest("optionIndex is required"))
		return
	}
	res, err := h.gateway.SubmitAnswer(c.Request.Context(), h.gateway.Detached("", ""), c.Param("id"), req.ParticipantID, req.QuestionIndex, *req.OptionIndex)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.AnswerResultPayload{
		Correct:      res.Correct,
		Score:        res.Score,
		CorrectIndex: res.CorrectIndex,
	})
}

// streamEvents is a read-only Server-Sent Events view of a room: the current
// snapshot first, then every room-wide notification.
func (h *RESTHandler) streamEvents(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("id")
	events, cancel, err := h.gateway.Subscribe(ctx, roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer cancel()

	room, err := h.gateway.Room(ctx, roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(string(domain.EventRoomState), room)
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt.Payload)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

var errMissingIdentity = &domain.Error{Code: domain.CodeBadRequest, Message: "missing or invalid identity"}

func (h *RESTHandler) writeError(c *gin.Context, err error) {
	if gateway.IsDropped(err) {
		err = errMissingIdentity
	}
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gateway.ErrorPayload(err))
}

// StatusFor maps a failure to its HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, errMissingIdentity) {
		return http.StatusUnauthorized
	}
	switch domain.CodeOf(err) {
	case domain.CodeRoomNotFound, domain.CodeParticipantNotFound:
		return http.StatusNotFound
	case domain.CodeNotHost:
		return http.StatusForbidden
	case domain.CodeRoomAlreadyStarted, domain.CodeDuplicateName, domain.CodeInvalidStatus,
		domain.CodeGameNotInProgress, domain.CodeDuplicateAnswer, domain.CodeTimeExpired,
		domain.CodeInvalidTimestamp:
		return http.StatusConflict
	case domain.CodeInvalidQuestion, domain.CodeHostRequired, domain.CodeInvalidQuiz,
		domain.CodeInvalidName, domain.CodeInvalidOption, domain.CodeBadRequest:
		return http.StatusBadRequest
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/roomsync"
)

// RoomServiceName is the Connect service serving the room request/ack API
const RoomServiceName = "yusic.room.v1.RoomService"

// Procedure paths of RoomService
const (
	RoomServiceCreateRoomProcedure = "/" + RoomServiceName + "/CreateRoom"
	RoomServiceJoinRoomProcedure   = "/" + RoomServiceName + "/JoinRoom"
	RoomServiceGetStateProcedure   = "/" + RoomServiceName + "/GetState"
	RoomServicePlayProcedure       = "/" + RoomServiceName + "/Play"
	RoomServicePauseProcedure      = "/" + RoomServiceName + "/Pause"
	RoomServiceSeekProcedure       = "/" + RoomServiceName + "/Seek"
	RoomServiceChangeSongProcedure = "/" + RoomServiceName + "/ChangeSong"
	RoomServiceSetQueueProcedure   = "/" + RoomServiceName + "/SetQueue"
)

// JSONCodec lets Connect carry plain Go structs as JSON. It replaces the
// default "json" codec, which only accepts protobuf messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type CreateRoomRequest struct{}

// JoinRoomRequest joins the connection named by the X-Connection-ID header
type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
}

type RoomRequest struct {
	RoomID string `json:"room_id"`
}

type PlayRequest struct {
	RoomID   string           `json:"room_id"`
	TrackKey *models.TrackKey `json:"track_key,omitempty"`
}

type SeekRequest struct {
	RoomID   string   `json:"room_id"`
	Position *float64 `json:"position"`
}

type ChangeSongRequest struct {
	RoomID   string           `json:"room_id"`
	TrackKey *models.TrackKey `json:"track_key"`
}

type SetQueueRequest struct {
	RoomID string            `json:"room_id"`
	Queue  []models.TrackKey `json:"queue"`
}

// RoomService adapts the room handler to Connect unary procedures
type RoomService struct {
	rooms *roomsync.Handler
}

// NewRoomServiceHandler builds the Connect handler for RoomService and
// returns the path prefix to mount it on.
func NewRoomServiceHandler(rooms *roomsync.Handler, opts ...connect.HandlerOption) (string, http.Handler) {
	s := &RoomService{rooms: rooms}
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(RoomServiceCreateRoomProcedure, connect.NewUnaryHandler(RoomServiceCreateRoomProcedure, s.CreateRoom, opts...))
	mux.Handle(RoomServiceJoinRoomProcedure, connect.NewUnaryHandler(RoomServiceJoinRoomProcedure, s.JoinRoom, opts...))
	mux.Handle(RoomServiceGetStateProcedure, connect.NewUnaryHandler(RoomServiceGetStateProcedure, s.GetState, opts...))
	mux.Handle(RoomServicePlayProcedure, connect.NewUnaryHandler(RoomServicePlayProcedure, s.Play, opts...))
	mux.Handle(RoomServicePauseProcedure, connect.NewUnaryHandler(RoomServicePauseProcedure, s.Pause, opts...))
	mux.Handle(RoomServiceSeekProcedure, connect.NewUnaryHandler(RoomServiceSeekProcedure, s.Seek, opts...))
	mux.Handle(RoomServiceChangeSongProcedure, connect.NewUnaryHandler(RoomServiceChangeSongProcedure, s.ChangeSong, opts...))
	mux.Handle(RoomServiceSetQueueProcedure, connect.NewUnaryHandler(RoomServiceSetQueueProcedure, s.SetQueue, opts...))
	return "/" + RoomServiceName + "/", mux
}

// CreateRoom never joins, like POST /rooms
func (s *RoomService) CreateRoom(ctx context.Context, req *connect.Request[CreateRoomRequest]) (*connect.Response[models.Snapshot], error) {
	snap, err := s.rooms.CreateRoom(ctx, "")
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&snap), nil
}

func (s *RoomService) JoinRoom(ctx context.Context, req *connect.Request[JoinRoomRequest]) (*connect.Response[models.Snapshot], error) {
	connID := req.Header().Get(ConnectionIDHeader)
	if connID == "" {
		return nil, connectError(fmt.Errorf("%w: %s header is required", roomsync.ErrBadRequest, ConnectionIDHeader))
	}
	snap, err := s.rooms.JoinRoom(ctx, connID, req.Msg.RoomID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&snap), nil
}

func (s *RoomService) GetState(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[models.Snapshot], error) {
	snap, err := s.rooms.State(req.Msg.RoomID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&snap), nil
}

func (s *RoomService) Play(ctx context.Context, req *connect.Request[PlayRequest]) (*connect.Response[MutationResponse], error) {
	return mutation(s.rooms.Play(ctx, req.Header().Get(ConnectionIDHeader), req.Msg.RoomID, req.Msg.TrackKey))
}

func (s *RoomService) Pause(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[MutationResponse], error) {
	return mutation(s.rooms.Pause(ctx, req.Header().Get(ConnectionIDHeader), req.Msg.RoomID))
}

func (s *RoomService) Seek(ctx context.Context, req *connect.Request[SeekRequest]) (*connect.Response[MutationResponse], error) {
	if req.Msg.Position == nil {
		return nil, connectError(fmt.Errorf("%w: position is required", roomsync.ErrBadRequest))
	}
	return mutation(s.rooms.Seek(ctx, req.Header().Get(ConnectionIDHeader), req.Msg.RoomID, *req.Msg.Position))
}

func (s *RoomService) ChangeSong(ctx context.Context, req *connect.Request[ChangeSongRequest]) (*connect.Response[MutationResponse], error) {
	if req.Msg.TrackKey == nil {
		return nil, connectError(fmt.Errorf("%w: track_key is required", roomsync.ErrBadRequest))
	}
	return mutation(s.rooms.ChangeSong(ctx, req.Header().Get(ConnectionIDHeader), req.Msg.RoomID, *req.Msg.TrackKey))
}

func (s *RoomService) SetQueue(ctx context.Context, req *connect.Request[SetQueueRequest]) (*connect.Response[MutationResponse], error) {
	queue := req.Msg.Queue
	if queue == nil {
		queue = []models.TrackKey{}
	}
	return mutation(s.rooms.SetQueue(ctx, req.Header().Get(ConnectionIDHeader), req.Msg.RoomID, queue))
}

func mutation(res roomsync.Result, err error) (*connect.Response[MutationResponse], error) {
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&MutationResponse{OK: true, State: res.Snapshot, Notice: res.Notice}), nil
}

// connectError maps an ack error code onto a Connect code. The message is
// the ack code itself so both transports report the same value.
func connectError(err error) *connect.Error {
	code := roomsync.Code(err)
	connectCode := connect.CodeInvalidArgument
	switch code {
	case roomsync.CodeRoomNotFound, roomsync.CodePlaylistNotFound:
		connectCode = connect.CodeNotFound
	case roomsync.CodeInternal:
		connectCode = connect.CodeInternal
	}
	return connect.NewError(connectCode, errors.New(string(code)))
}

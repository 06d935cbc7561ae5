package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nedpals/nfcard/buildinfo"
	"github.com/nedpals/nfcard/nfc"
	"github.com/nedpals/nfcard/nfc/capture"
)

// handleDeviceWebSocket serves one phone. The first message must be
// registerDevice; the phone is unregistered when the connection closes.
func (s *Server) handleDeviceWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}
	c := newClient(conn)
	defer c.Close()

	logger := s.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Debug("Device connection opened")

	req, ok := s.readRequest(c, logger)
	if !ok {
		return
	}
	if req.Type != TypeRegisterDevice {
		s.sendError(c, req.ID, ErrCodeInvalidMessageType, fmt.Sprintf("Expected '%s' message", TypeRegisterDevice))
		return
	}
	device, err := s.handleRegister(c, req)
	if err != nil {
		logger.Warn("Registration failed", zap.Error(err))
		return
	}

	logger = logger.With(zap.String("device", device.ID))
	logger.Info("Device registered", zap.Stringer("name", device))
	s.broadcastStatus(device, true)
	defer func() {
		if _, err := s.devices.Unregister(device.ID); err == nil {
			s.broadcastStatus(device, false)
		}
		logger.Info("Device disconnected")
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			s.sendError(c, "", ErrCodeInvalidMessageType, "Expected text message")
			continue
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError(c, "", ErrCodeParse, "Invalid message format")
			continue
		}
		if _, ok := s.devices.Get(device.ID); !ok {
			s.sendError(c, req.ID, ErrCodeInvalidDevice, "Device registration expired")
			return
		}
		_ = s.devices.Touch(device.ID)

		var handlerErr error
		switch req.Type {
		case TypeTagScanned:
			handlerErr = s.handleTagScanned(r.Context(), c, device, req)
		case TypeDeviceHeartbeat:
			handlerErr = s.handleHeartbeat(device, req)
		default:
			s.sendError(c, req.ID, ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}
		if handlerErr != nil {
			logger.Warn("Handler error", zap.String("type", req.Type), zap.Error(handlerErr))
		}
	}
}

func (s *Server) readRequest(c *client, logger *zap.Logger) (Request, bool) {
	var req Request
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		logger.Debug("Failed to read registration message", zap.Error(err))
		return req, false
	}
	if msgType != websocket.TextMessage {
		s.sendError(c, "", ErrCodeInvalidMessageType, "Expected text message")
		return req, false
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, "", ErrCodeParse, "Invalid message format")
		return req, false
	}
	return req, true
}

func (s *Server) handleRegister(c *client, req Request) (*Device, error) {
	var reg RegisterDeviceRequest
	if err := json.Unmarshal(req.Payload, &reg); err != nil {
		s.sendError(c, req.ID, ErrCodeInvalidPayload, "Invalid registration request format")
		return nil, fmt.Errorf("failed to parse registration request: %w", err)
	}
	device, err := s.devices.Register(reg)
	if err != nil {
		s.sendError(c, req.ID, ErrCodeInvalidRequest, err.Error())
		return nil, err
	}

	err = c.WriteJSON(Response{
		ID:      req.ID,
		Type:    TypeRegisterDeviceResponse,
		Success: true,
		Payload: RegisterDeviceResponse{
			DeviceID: device.ID,
			ServerInfo: ServerInfo{
				Version:      buildinfo.Version,
				Technologies: technologyNames(),
			},
		},
	})
	if err != nil {
		_, _ = s.devices.Unregister(device.ID)
		return nil, fmt.Errorf("failed to send registration response: %w", err)
	}
	return device, nil
}

// handleTagScanned runs the capture through the engine, answers the phone
// with the report and broadcasts it to consumers.
func (s *Server) handleTagScanned(ctx context.Context, c *client, device *Device, req Request) error {
	var scan TagScannedRequest
	if err := json.Unmarshal(req.Payload, &scan); err != nil {
		s.sendError(c, req.ID, ErrCodeInvalidPayload, "Invalid tag data format")
		return err
	}
	if scan.DeviceID != "" && scan.DeviceID != device.ID {
		s.sendError(c, req.ID, ErrCodeInvalidDevice, "Device ID mismatch")
		return fmt.Errorf("device ID mismatch: expected %s, got %s", device.ID, scan.DeviceID)
	}
	scan.Capture.DeviceID = device.ID

	session, err := capture.NewSession(&scan.Capture, device.Source())
	if err != nil {
		s.sendError(c, req.ID, ErrCodeInvalidCapture, err.Error())
		return err
	}

	pending, err := s.orch.Submit(session)
	if err != nil {
		code := ErrCodeInternal
		if errors.Is(err, nfc.ErrQueueFull) {
			code = ErrCodeBusy
		}
		s.sendError(c, req.ID, code, err.Error())
		return err
	}
	report, err := pending.Wait(ctx)
	if err != nil {
		return err
	}

	s.hub.BroadcastReport(report)
	return c.WriteJSON(Response{
		ID:      req.ID,
		Type:    TypeTagScannedResponse,
		Success: true,
		Payload: TagScannedResponse{
			EncounterID: report.EncounterID.String(),
			Report:      report,
		},
	})
}

func (s *Server) handleHeartbeat(device *Device, req Request) error {
	var hb DeviceHeartbeat
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &hb); err != nil {
			return err
		}
	}
	if hb.DeviceID != "" && hb.DeviceID != device.ID {
		return fmt.Errorf("device ID mismatch")
	}
	return s.devices.Touch(device.ID)
}

func (s *Server) sendError(c *client, requestID, code, message string) {
	err := c.WriteJSON(Response{
		ID:      requestID,
		Type:    TypeError,
		Success: false,
		Payload: ErrorPayload{Code: code, Message: message},
		Error:   message,
	})
	if err != nil {
		s.logger.Debug("Failed to send error", zap.String("code", code), zap.Error(err))
	}
}

package serve

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	wvpb "github.com/iyear/gowidevine/widevinepb"

	"github.com/devatadev/gowvcdm/wv"
)

// rpcError is an error answered to the client with its status code.
type rpcError struct {
	status int
	msg    string
}

func (e *rpcError) Error() string {
	return e.msg
}

func badRequest(format string, args ...any) error {
	return &rpcError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

var errUnauthorized = &rpcError{status: http.StatusUnauthorized, msg: "Unauthorized"}

// statusCode maps CDM errors to the status codes of the RPC envelope.
func statusCode(err error) int {
	var rpcErr *rpcError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr.status
	case errors.Is(err, wv.ErrUnknownSession), errors.Is(err, wv.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, wv.ErrProtocolState):
		return http.StatusConflict
	case errors.Is(err, wv.ErrInvalidInput),
		errors.Is(err, wv.ErrMalformedCertificate),
		errors.Is(err, wv.ErrMalformedResponse),
		errors.Is(err, wv.ErrSignatureMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// reply writes the RPC envelope. The HTTP status is always 200; clients read
// status_code.
func (s *Server) reply(c *gin.Context, method string, status int, message any) {
	raw, err := json.Marshal(message)
	if err != nil {
		status = http.StatusInternalServerError
		raw, _ = json.Marshal("failed to encode result")
	}
	s.metrics.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.JSON(http.StatusOK, wv.RPCResponse{StatusCode: status, Message: raw})
}

func (s *Server) handleRPC(c *gin.Context) {
	var req wv.RPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reply(c, "", http.StatusBadRequest, "Failed to parse request body")
		return
	}

	token := req.Token
	if token == "" {
		token = c.GetHeader("X-Secret-Key")
	}
	user, ok := s.cfg.Users[token]
	if !ok || token == "" {
		s.reply(c, req.Method, http.StatusUnauthorized, errUnauthorized.msg)
		return
	}
	log := s.logger.With(slog.String("user", user.Name), slog.String("method", req.Method))

	var (
		result any
		err    error
	)
	switch req.Method {
	case wv.MethodGetChallenge:
		result, err = s.getChallenge(token, user.Devices, req.Params)
	case wv.MethodGetKeys:
		result, err = s.getKeys(token, req.Params)
	case wv.MethodGetKeysX:
		result, err = s.getKeysX(token, req.Params)
	default:
		err = badRequest("Unknown method %q", req.Method)
	}
	if err != nil {
		status := statusCode(err)
		log.Warn("rpc failed", slog.Int("status_code", status), slog.String("error", err.Error()))
		s.reply(c, req.Method, status, err.Error())
		return
	}

	log.Debug("rpc succeeded")
	s.reply(c, req.Method, http.StatusOK, result)
}

func decodeParams(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest("Failed to parse params: %v", err)
	}
	return nil
}

func (s *Server) getChallenge(token string, allowed []string, raw json.RawMessage) (*wv.GetChallengeResult, error) {
	var params wv.GetChallengeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if !slices.Contains(allowed, params.Device) {
		return nil, errUnauthorized
	}

	initData, err := base64.StdEncoding.DecodeString(params.Init)
	if err != nil {
		return nil, badRequest("Failed to decode init data")
	}

	var offline bool
	switch strings.ToUpper(params.LicenseType) {
	case "", wvpb.LicenseType_STREAMING.String():
	case wvpb.LicenseType_OFFLINE.String():
		offline = true
	default:
		return nil, badRequest("Unknown license type %q", params.LicenseType)
	}

	var cert []byte
	switch {
	case params.Cert != nil:
		if cert, err = base64.StdEncoding.DecodeString(*params.Cert); err != nil {
			return nil, badRequest("Failed to decode certificate")
		}
	case s.cfg.Serve.ForcePrivacyMode:
		cert, _ = base64.StdEncoding.DecodeString(wv.CommonPrivacyCert)
	}

	s.expireSessions()

	cdm, err := s.cdm(token, params.Device)
	if err != nil {
		return nil, err
	}
	id, err := cdm.Open(initData, params.Raw, offline)
	if err != nil {
		return nil, err
	}

	challenge, err := func() ([]byte, error) {
		if cert != nil {
			if err := cdm.SetServiceCertificate(id, cert); err != nil {
				return nil, err
			}
		}
		return cdm.GetLicenseChallenge(id)
	}()
	if err != nil {
		cdm.Close(id)
		return nil, err
	}

	sessionId := hex.EncodeToString(id)
	s.addSession(token, sessionId, &openSession{
		id:     id,
		cdm:    cdm,
		device: params.Device,
	})

	return &wv.GetChallengeResult{
		Challenge: base64.StdEncoding.EncodeToString(challenge),
		SessionID: sessionId,
	}, nil
}

func (s *Server) session(token, sessionId string, license string) (*openSession, []byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(license)
	if err != nil {
		return nil, nil, badRequest("Failed to decode license")
	}
	session, ok := s.takeSession(token, sessionId)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", wv.ErrUnknownSession, sessionId)
	}
	return session, decoded, nil
}

func (s *Server) getKeys(token string, raw json.RawMessage) (*wv.GetKeysResult, error) {
	var params wv.GetKeysParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	session, license, err := s.session(token, params.SessionID, params.CdmKeyResponse)
	if err != nil {
		return nil, err
	}
	defer session.cdm.Close(session.id)

	if err = session.cdm.ParseLicense(session.id, license); err != nil {
		s.metrics.licenses.WithLabelValues(session.device, "rejected").Inc()
		return nil, err
	}
	s.metrics.licenses.WithLabelValues(session.device, "parsed").Inc()

	keys, err := session.cdm.GetKeys(session.id, true)
	if err != nil {
		return nil, err
	}
	res := &wv.GetKeysResult{Keys: make([]wv.RemoteKey, 0, len(keys))}
	for _, key := range keys {
		res.Keys = append(res.Keys, wv.RemoteKey{Kid: key.KeyIdHex(), Key: key.KeyHex()})
	}
	return res, nil
}

func (s *Server) getKeysX(token string, raw json.RawMessage) (*wv.GetKeysXResult, error) {
	var params wv.GetKeysXParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	encKeyID, err := base64.StdEncoding.DecodeString(params.EncryptionKeyID)
	if err != nil {
		return nil, badRequest("Failed to decode encryption key id")
	}
	hmacKeyID, err := base64.StdEncoding.DecodeString(params.HmacKeyID)
	if err != nil {
		return nil, badRequest("Failed to decode hmac key id")
	}
	session, license, err := s.session(token, params.SessionID, params.CdmKeyResponse)
	if err != nil {
		return nil, err
	}
	defer session.cdm.Close(session.id)

	encKey, signKey, err := session.cdm.Exchange(session.id, license, encKeyID, hmacKeyID)
	if err != nil {
		s.metrics.licenses.WithLabelValues(session.device, "rejected").Inc()
		return nil, err
	}
	s.metrics.licenses.WithLabelValues(session.device, "parsed").Inc()

	return &wv.GetKeysXResult{
		EncryptionKey: base64.StdEncoding.EncodeToString(encKey),
		SignKey:       base64.StdEncoding.EncodeToString(signKey),
	}, nil
}

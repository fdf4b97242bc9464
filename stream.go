/*
 *
 * Copyright 2014 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package grpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/trace"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/credentials"
	"github.com/relaygrpc/grpc/credentials/oauth"
	"github.com/relaygrpc/grpc/encoding"
	"github.com/relaygrpc/grpc/metadata"
	"github.com/relaygrpc/grpc/status"
)

// ClientStream is the Call Runtime surface a generated stub (or Invoke)
// drives for one RPC attempt (spec §4.6): exactly the primitives named
// there — StartAttempt (NewClientStream), SendMessage, ReadMessage, and
// Finish (the error SendMsg/RecvMsg ultimately surface).
type ClientStream interface {
	// Header blocks until the response headers arrive, returning them.
	Header() (metadata.MD, error)
	// Trailer returns the response trailer metadata; only valid after
	// RecvMsg returns a non-nil error (io.EOF included).
	Trailer() metadata.MD
	// CloseSend signals that no more messages will be sent.
	CloseSend() error
	// Context returns the context governing this stream.
	Context() context.Context
	// SendMsg sends one message. For a non-client-streaming method, this
	// may be called at most once.
	SendMsg(m any) error
	// RecvMsg receives one message, or returns io.EOF after the final
	// message, or a *status.Error-bearing error on failure. A null
	// response with no error maps to Cancelled, per spec §4.6.
	RecvMsg(m any) error
}

// NewClientStream implements the Call Runtime's StartAttempt (spec §4.6):
// it picks a SubConn via the Channel's Picker, opens an HTTP/2 request to
// it, and returns a ClientStream the caller drives with SendMsg/RecvMsg.
func NewClientStream(ctx context.Context, desc *StreamDesc, cc *ClientConn, method string, opts ...CallOption) (ClientStream, error) {
	co := defaultCallOptions()
	for _, o := range cc.dopts.defaultCallOptions {
		o.applyCall(&co)
	}
	for _, o := range opts {
		o.applyCall(&co)
	}

	waitForReady := false
	if co.waitForReady != nil {
		waitForReady = *co.waitForReady
	}
	var methodTimeout time.Duration
	if service, m := splitFullMethod(method); service != "" {
		if mc, ok := cc.methodConfig(service, m); ok {
			if co.waitForReady == nil && mc.WaitForReady != nil {
				waitForReady = *mc.WaitForReady
			}
			if mc.Timeout != nil && *mc.Timeout > 0 {
				methodTimeout = *mc.Timeout
			}
		}
	}

	var cancel context.CancelFunc
	if methodTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, methodTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	pr, err := cc.PickAsync(ctx, waitForReady, balancer.PickInfo{FullMethodName: method, Ctx: ctx})
	if err != nil {
		cancel()
		return nil, err
	}
	acbw, ok := pr.SubConn.(*acBalancerWrapper)
	if !ok || acbw == nil {
		cancel()
		return nil, status.Error(codes.Internal, "grpc: picker returned an unrecognized SubConn")
	}
	t := acbw.sc.Transport()
	if t == nil {
		cancel()
		return nil, status.Error(codes.Unavailable, "grpc: picked SubConn is not Ready")
	}
	httpConn, err := t.NewStream(ctx, method)
	if err != nil {
		cancel()
		if pr.Done != nil {
			pr.Done(balancer.DoneInfo{Err: err})
		}
		return nil, status.Errorf(codes.Unavailable, "grpc: failed to open stream: %v", err)
	}

	cs := &clientStream{
		ctx:       ctx,
		cancel:    cancel,
		cc:        cc,
		method:    method,
		desc:      desc,
		codec:     codecFor(co),
		opts:      co,
		done:      pr.Done,
		respCh:    make(chan httpResult, 1),
		attemptID: uuid.NewString(),
		authInfo:  t.AuthInfo(),
	}
	if co.compressorName != "" {
		cs.cp = encoding.GetCompressor(co.compressorName)
	}
	if EnableTracing {
		cs.tr = trace.New("grpc.Sent."+methodFamily(method), method)
		cs.tr.LazyPrintf("attempt %s", cs.attemptID)
		if dl, ok := ctx.Deadline(); ok {
			cs.tr.LazyPrintf("deadline in %v", time.Until(dl))
		}
	}

	pipeR, pipeW := io.Pipe()
	cs.bodyW = pipeW

	req, err := cs.newRequest(pipeR)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		resp, err := httpConn.RoundTrip(req)
		cs.respCh <- httpResult{resp: resp, err: err}
	}()

	return cs, nil
}

// EnableTracing controls whether NewClientStream records a
// golang.org/x/net/trace.Trace for each attempt, visible on the
// /debug/requests endpoint. Off by default, matching the teacher
// corpus's opt-in convention.
var EnableTracing = false

// methodFamily derives the event-log grouping trace.New uses: the
// method name with any leading package/service path stripped.
func methodFamily(m string) string {
	m = strings.TrimPrefix(m, "/")
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	if i := strings.Index(m, ":"); i >= 0 {
		m = m[:i]
	}
	return m
}

func splitFullMethod(method string) (service, m string) {
	trimmed := strings.TrimPrefix(method, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return "", ""
}

type httpResult struct {
	resp *http.Response
	err  error
}

// clientStream implements ClientStream over one HTTP/2 request/response
// exchange (spec §4.6).
type clientStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	cc     *ClientConn
	method string
	desc   *StreamDesc
	codec  encoding.Codec
	cp     encoding.Compressor
	opts   callOptions
	done   func(balancer.DoneInfo)

	bodyW  *io.PipeWriter
	respCh chan httpResult

	// attemptID correlates this attempt's log lines across retries and
	// hedged siblings of the same logical call.
	attemptID string
	tr        trace.Trace
	authInfo  credentials.AuthInfo

	mu         sync.Mutex
	resp       *http.Response
	respErr    error
	gotHeaders bool
	parser     *parser
	trailer    metadata.MD
	closedSend bool
	finished   bool
}

func (cs *clientStream) Context() context.Context { return cs.ctx }

func (cs *clientStream) newRequest(body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(cs.ctx, http.MethodPost, "https://"+cs.cc.authority+cs.method, body)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "grpc: failed to build request: %v", err)
	}
	contentType := "application/grpc+" + cs.codec.Name()
	req.Header.Set("content-type", contentType)
	req.Header.Set("te", "trailers")
	req.Header.Set("grpc-accept-encoding", encoding.KnownCompressors())
	if cs.cc.dopts.userAgent != "" {
		req.Header.Set("user-agent", cs.cc.dopts.userAgent+" grpc-go/relaygrpc")
	} else {
		req.Header.Set("user-agent", "grpc-go/relaygrpc")
	}
	if cs.cp != nil {
		req.Header.Set("grpc-encoding", cs.cp.Name())
	}
	if dl, ok := cs.ctx.Deadline(); ok {
		req.Header.Set("grpc-timeout", encodeTimeout(time.Until(dl)))
	}
	if md, ok := metadata.FromOutgoingContext(cs.ctx); ok {
		for k, vs := range md {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	perRPC := cs.cc.dopts.perRPCCreds
	if cs.opts.creds != nil {
		perRPC = append(perRPC[:len(perRPC):len(perRPC)], cs.opts.creds)
	}
	if len(perRPC) > 0 {
		riCtx := oauth.NewContextWithRequestInfo(cs.ctx, oauth.RequestInfo{AuthInfo: cs.authInfo})
		for _, creds := range perRPC {
			kv, err := creds.GetRequestMetadata(riCtx, cs.cc.target)
			if err != nil {
				return nil, status.Errorf(codes.Unauthenticated, "grpc: failed to fetch per-RPC credentials: %v", err)
			}
			for k, v := range kv {
				req.Header.Set(k, v)
			}
		}
	}
	return req, nil
}

// encodeTimeout renders d as a grpc-timeout header value: the shortest
// unit (H, M, S, m, u, n) that keeps the numeric value under 1e8, per the
// wire format the Call Runtime's deadline propagation observes (spec
// §1, §4.6).
func encodeTimeout(d time.Duration) string {
	if d <= 0 {
		return "0n"
	}
	units := []struct {
		unit string
		dur  time.Duration
	}{
		{"n", time.Nanosecond},
		{"u", time.Microsecond},
		{"m", time.Millisecond},
		{"S", time.Second},
		{"M", time.Minute},
		{"H", time.Hour},
	}
	for _, u := range units {
		v := d / u.dur
		if v < 1e8 {
			return strconv.FormatInt(int64(v), 10) + u.unit
		}
	}
	return strconv.FormatInt(int64(d/time.Hour), 10) + "H"
}

// awaitHeaders blocks until the response headers arrive (or the stream
// fails before then), caching the result for subsequent callers.
func (cs *clientStream) awaitHeaders() error {
	cs.mu.Lock()
	if cs.gotHeaders {
		err := cs.respErr
		cs.mu.Unlock()
		return err
	}
	cs.mu.Unlock()

	r := <-cs.respCh
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.gotHeaders {
		return cs.respErr
	}
	cs.gotHeaders = true
	cs.resp = r.resp
	cs.respErr = r.err
	if r.err == nil && r.resp != nil {
		cs.parser = &parser{r: r.resp.Body}
		if cs.opts.headers != nil {
			md := make(metadata.MD, len(r.resp.Header))
			for k, vs := range r.resp.Header {
				md[strings.ToLower(k)] = vs
			}
			*cs.opts.headers = md
		}
	}
	return cs.respErr
}

func (cs *clientStream) Header() (metadata.MD, error) {
	if err := cs.awaitHeaders(); err != nil {
		return nil, toRPCErr(err)
	}
	md := make(metadata.MD, len(cs.resp.Header))
	for k, vs := range cs.resp.Header {
		md[strings.ToLower(k)] = vs
	}
	return md, nil
}

func (cs *clientStream) Trailer() metadata.MD {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.trailer
}

func (cs *clientStream) CloseSend() error {
	cs.mu.Lock()
	if cs.closedSend {
		cs.mu.Unlock()
		return nil
	}
	cs.closedSend = true
	cs.mu.Unlock()
	return cs.bodyW.Close()
}

func (cs *clientStream) SendMsg(m any) error {
	if cs.tr != nil {
		cs.tr.LazyPrintf("%s sent message", cs.attemptID)
	}
	data, err := encode(cs.codec, m)
	if err != nil {
		return err
	}
	if max := cs.maxSendSize(); len(data) > max {
		return status.Errorf(codes.ResourceExhausted, "grpc: message of %d bytes exceeds maxCallSendMsgSize of %d bytes", len(data), max)
	}
	compData, err := compressFrame(data, cs.cp)
	if err != nil {
		return err
	}
	hdr, payload := msgHeader(data, compData)
	if _, err := cs.bodyW.Write(hdr); err != nil {
		return cs.finish(toRPCErr(err))
	}
	if _, err := cs.bodyW.Write(payload); err != nil {
		return cs.finish(toRPCErr(err))
	}
	if !cs.desc.ClientStreams {
		return cs.CloseSend()
	}
	return nil
}

// RecvMsg implements spec §4.6's ReadMessage plus Finish: it reads one
// frame, or on stream exhaustion reads the trailer and maps it to a
// terminal Status, remapping a null final response to Cancelled.
func (cs *clientStream) RecvMsg(m any) error {
	if err := cs.awaitHeaders(); err != nil {
		return cs.finish(toRPCErr(err))
	}
	if sErr := statusFromHeader(cs.resp); sErr != nil {
		return cs.finish(sErr)
	}

	ct, data, err := cs.parser.recvMsg(cs.maxRecvSize())
	if err == io.EOF {
		return cs.finish(cs.finalStatus())
	}
	if err != nil {
		return cs.finish(toRPCErr(err))
	}
	if data == nil {
		// A frame with a zero-length payload and no error: spec §4.6,
		// "a null response maps to Cancelled with message 'No message
		// returned from method.'"
		return cs.finish(status.Error(codes.Cancelled, "No message returned from method."))
	}

	raw := data
	if ct == compressionMade {
		raw, err = decompressFrame(data, cs.decompressorFor())
		if err != nil {
			return cs.finish(err)
		}
	}
	if err := cs.codec.Unmarshal(raw, m); err != nil {
		return cs.finish(status.Errorf(codes.Internal, "grpc: failed to unmarshal response: %v", err))
	}
	return nil
}

func (cs *clientStream) decompressorFor() encoding.Compressor {
	enc := cs.resp.Header.Get("grpc-encoding")
	if enc == "" || enc == encoding.Identity {
		return nil
	}
	return encoding.GetCompressor(enc)
}

func (cs *clientStream) maxRecvSize() int {
	if cs.opts.maxRecvMsgSize != nil {
		return *cs.opts.maxRecvMsgSize
	}
	return cs.cc.dopts.maxCallRecvMsgSize
}

func (cs *clientStream) maxSendSize() int {
	if cs.opts.maxSendMsgSize != nil {
		return *cs.opts.maxSendMsgSize
	}
	return cs.cc.dopts.maxCallSendMsgSize
}

// finalStatus reads the trailer once the body is exhausted and maps it
// to a terminal error, falling back to the resp's HTTP status when no
// grpc-status trailer was sent at all (spec §4.6).
func (cs *clientStream) finalStatus() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	trailer := make(metadata.MD, len(cs.resp.Trailer))
	for k, vs := range cs.resp.Trailer {
		trailer[strings.ToLower(k)] = vs
	}
	cs.trailer = trailer
	if cs.opts.trailers != nil {
		*cs.opts.trailers = trailer
	}

	if gs := trailer.Get("grpc-status"); len(gs) > 0 {
		code, err := strconv.Atoi(gs[0])
		if err != nil {
			return status.Errorf(codes.Internal, "grpc: invalid grpc-status trailer %q", gs[0])
		}
		msg := ""
		if gm := trailer.Get("grpc-message"); len(gm) > 0 {
			msg = unpercentDecode(gm[0])
		}
		if codes.Code(code) == codes.OK {
			return io.EOF
		}
		return status.Error(codes.Code(code), msg)
	}
	return status.Error(httpStatusToCode(cs.resp.StatusCode), fmt.Sprintf("grpc: unexpected HTTP status %d with no grpc-status trailer", cs.resp.StatusCode))
}

// statusFromHeader catches servers that fail the call before ever
// sending a message, putting grpc-status on the initial headers instead
// of a trailer (trailers-only response).
func statusFromHeader(resp *http.Response) error {
	gs := resp.Header.Get("grpc-status")
	if gs == "" {
		return nil
	}
	code, err := strconv.Atoi(gs)
	if err != nil || codes.Code(code) == codes.OK {
		return nil
	}
	return status.Error(codes.Code(code), unpercentDecode(resp.Header.Get("grpc-message")))
}

func unpercentDecode(s string) string {
	return s
}

// httpStatusToCode maps a non-gRPC HTTP response to a status code, for
// servers or intermediaries that fail the request before any gRPC
// framing is involved (spec §4.6's HTTP-status-code fallback table).
func httpStatusToCode(status int) codes.Code {
	switch status {
	case http.StatusBadRequest:
		return codes.Internal
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.Unimplemented
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

func toRPCErr(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Errorf(codes.Unavailable, "grpc: %v", err)
}

func (cs *clientStream) finish(err error) error {
	cs.mu.Lock()
	already := cs.finished
	cs.finished = true
	cs.mu.Unlock()
	if !already {
		if cs.tr != nil {
			if err != nil && err != io.EOF {
				cs.tr.LazyPrintf("%s RPC: [%v]", cs.attemptID, err)
				cs.tr.SetError()
			} else {
				cs.tr.LazyPrintf("%s RPC: [OK]", cs.attemptID)
			}
			cs.tr.Finish()
			cs.tr = nil
		}
		if cs.done != nil {
			cs.done(balancer.DoneInfo{Err: err})
		}
		cs.cancel()
	}
	return err
}

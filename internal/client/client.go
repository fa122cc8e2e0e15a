// ABOUTME: Typed client for the SaveData gRPC service
// ABOUTME: Converts record types to api documents and carried error kinds back to sentinels

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/record"
)

// Client calls the SaveData service over a gRPC connection.
type Client struct {
	conn     *grpc.ClientConn
	owned    bool
	callOpts []grpc.CallOption
}

type options struct {
	creds       credentials.PerRPCCredentials
	dialOptions []grpc.DialOption
}

// Option configures a Client.
type Option func(*options)

// WithToken authenticates calls with a JWT bearer token.
func WithToken(token string) Option {
	return func(o *options) { o.creds = tokenCredentials{token: token} }
}

// WithSSHSigner authenticates calls by signing each one with signer.
func WithSSHSigner(signer ssh.Signer) Option {
	return func(o *options) { o.creds = sshCredentials{signer: signer, now: time.Now} }
}

// WithAccount names the caller to a server running in insecure mode.
func WithAccount(account record.AccountID) Option {
	return func(o *options) { o.creds = accountCredentials{account: account} }
}

// WithDialOptions appends dial options used by Dial.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}

// Dial creates a client for the server at addr. The connection uses plain
// TCP unless a dial option supplies transport credentials.
func Dial(addr string, opts ...Option) (*Client, error) {
	o := applyOptions(opts)
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, o.dialOptions...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	c := newClient(conn, o)
	c.owned = true
	return c, nil
}

// New wraps an existing connection. Close does not close conn.
func New(conn *grpc.ClientConn, opts ...Option) *Client {
	return newClient(conn, applyOptions(opts))
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newClient(conn *grpc.ClientConn, o *options) *Client {
	c := &Client{conn: conn}
	if o.creds != nil {
		c.callOpts = append(c.callOpts, grpc.PerRPCCredentials(o.creds))
	}
	return c
}

// Close closes the connection if the client dialed it.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

// Error is a failed SaveData call.
type Error struct {
	Code    codes.Code
	Kind    string
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the record sentinel matching Kind, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// call invokes method with req and decodes the reply into resp.
func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := api.ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	var trailer metadata.MD
	opts := append([]grpc.CallOption{grpc.Trailer(&trailer)}, c.callOpts...)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out, opts...); err != nil {
		return wrapError(err, trailer)
	}
	if resp == nil {
		return nil
	}
	return api.FromStruct(out, resp)
}

// wrapError converts a gRPC status error into *Error.
func wrapError(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	e := &Error{Code: st.Code(), Message: st.Message()}
	if kinds := trailer.Get(api.ErrorKindTrailer); len(kinds) > 0 {
		e.Kind = kinds[0]
		e.err = api.KindError(e.Kind)
	}
	return e
}

// IsUnauthenticated reports whether err is a rejected credential.
func IsUnauthenticated(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == codes.Unauthenticated
}

// RegisterGame registers game with the caller as its first authority.
func (c *Client) RegisterGame(ctx context.Context, game record.GameID) error {
	return c.call(ctx, api.MethodRegisterGame, api.RegisterGameRequest{Game: game}, nil)
}

// AddAuthority grants account access to game.
func (c *Client) AddAuthority(ctx context.Context, game record.GameID, account record.AccountID, access record.Access) error {
	return c.call(ctx, api.MethodAddAuthority, api.AuthorityRequest{Game: game, Account: account, Access: access.String()}, nil)
}

// RemoveAuthority revokes account's permission for game.
func (c *Client) RemoveAuthority(ctx context.Context, game record.GameID, account record.AccountID) error {
	return c.call(ctx, api.MethodRemoveAuthority, api.AuthorityRequest{Game: game, Account: account}, nil)
}

// Permissions returns account's grants in stored order.
func (c *Client) Permissions(ctx context.Context, account record.AccountID) (record.Permissions, error) {
	var resp api.PermissionsResponse
	if err := c.call(ctx, api.MethodGetPermissions, api.PermissionsRequest{Account: account}, &resp); err != nil {
		return nil, err
	}
	perms := make(record.Permissions, 0, len(resp.Permissions))
	for _, p := range resp.Permissions {
		access, err := record.ParseAccess(p.Access)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", p.Game, err)
		}
		perms = append(perms, record.Permission{Game: p.Game, Access: access})
	}
	return perms, nil
}

// WorldRecord returns the world record for (game, route).
func (c *Client) WorldRecord(ctx context.Context, game record.GameID, route record.Route) (record.DataRecord, error) {
	return c.getRecord(ctx, api.MethodGetWorldRecord, api.RecordRequest{Game: game, Route: route.String()})
}

// UserRecord returns user's record for (game, route).
func (c *Client) UserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route) (record.DataRecord, error) {
	return c.getRecord(ctx, api.MethodGetUserRecord, api.RecordRequest{Game: game, User: user, Route: route.String()})
}

func (c *Client) getRecord(ctx context.Context, method string, req api.RecordRequest) (record.DataRecord, error) {
	var resp api.RecordResponse
	if err := c.call(ctx, method, req, &resp); err != nil {
		return nil, err
	}
	rec := make(record.DataRecord, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		entry, err := e.DataEntry()
		if err != nil {
			return nil, fmt.Errorf("decoding entry %q: %w", e.Key, err)
		}
		rec = append(rec, entry)
	}
	return rec, nil
}

// toEntry renders a stored entry for a write request.
func toEntry(e record.DataEntry) api.Entry {
	out := api.FromDataEntry(e)
	out.AsInt32 = nil
	return out
}

// UpdateWorldRecord inserts or replaces entry in the world record.
func (c *Client) UpdateWorldRecord(ctx context.Context, game record.GameID, route record.Route, entry record.DataEntry) error {
	return c.call(ctx, api.MethodUpdateWorldRecord, api.UpdateRequest{Game: game, Route: route.String(), Entry: toEntry(entry)}, nil)
}

// UpdateUserRecord inserts or replaces entry in user's record.
func (c *Client) UpdateUserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route, entry record.DataEntry) error {
	return c.call(ctx, api.MethodUpdateUserRecord, api.UpdateRequest{Game: game, User: user, Route: route.String(), Entry: toEntry(entry)}, nil)
}

// RemoveWorldRecord removes key from the world record.
func (c *Client) RemoveWorldRecord(ctx context.Context, game record.GameID, route record.Route, key []byte) error {
	k, enc := api.EncodeKey(key)
	return c.call(ctx, api.MethodRemoveWorldRecord, api.RemoveRequest{Game: game, Route: route.String(), Key: k, KeyEncoding: enc}, nil)
}

// RemoveUserRecord removes key from user's record.
func (c *Client) RemoveUserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route, key []byte) error {
	k, enc := api.EncodeKey(key)
	return c.call(ctx, api.MethodRemoveUserRecord, api.RemoveRequest{Game: game, User: user, Route: route.String(), Key: k, KeyEncoding: enc}, nil)
}

// ModWorldRecord adds delta to the 4-byte integer stored under key.
func (c *Client) ModWorldRecord(ctx context.Context, game record.GameID, route record.Route, key []byte, delta int32) error {
	k, enc := api.EncodeKey(key)
	return c.call(ctx, api.MethodModWorldRecord, api.ModRequest{Game: game, Route: route.String(), Key: k, KeyEncoding: enc, Delta: &delta}, nil)
}

// Events returns up to limit of game's ledger events, newest first.
func (c *Client) Events(ctx context.Context, game record.GameID, limit int) ([]api.Event, error) {
	var resp api.EventsResponse
	if err := c.call(ctx, api.MethodListEvents, api.EventsRequest{Game: game, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Audit returns audit entries matching req, newest first.
func (c *Client) Audit(ctx context.Context, req api.AuditRequest) ([]api.AuditEntry, error) {
	var resp api.AuditResponse
	if err := c.call(ctx, api.MethodListAudit, req, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

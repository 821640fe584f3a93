// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package remote implements the connection to the chain a fork is taken from.
// Package remote 实现了与被分叉的远程链之间的连接。
package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
)

// Config contains the retry and rate limiting settings used when talking to a
// remote endpoint.
// Config 包含与远程端点通信时使用的重试和限速设置。
type Config struct {
	Retries               int               // Maximum number of retries per request 每个请求的最大重试次数
	Backoff               time.Duration     // Initial backoff between retries 重试之间的初始退避时间
	ComputeUnitsPerSecond uint64            // Compute unit budget of the endpoint, 0 disables limiting 端点的计算单元预算，0 表示不限速
	Timeout               time.Duration     // Timeout of a single attempt 单次尝试的超时时间
	Headers               map[string]string `toml:",omitempty"` // Extra HTTP headers sent with every request
}

// DefaultConfig mirrors the settings of public RPC providers' free tiers.
var DefaultConfig = Config{
	Retries:               5,
	Backoff:               time.Second,
	ComputeUnitsPerSecond: 330,
	Timeout:               45 * time.Second,
}

// Provider is a typed client of a remote endpoint. All methods of the embedded
// ethclient go through the retrying transport when the endpoint is HTTP.
// Provider 是远程端点的类型化客户端。当端点为 HTTP 时，内嵌 ethclient 的所有方法都会经过带重试的传输层。
type Provider struct {
	*ethclient.Client

	rpc *rpc.Client
	url string
	log log.Logger
}

// NewProvider wraps an already established rpc client.
func NewProvider(c *rpc.Client, rawurl string) *Provider {
	return &Provider{
		Client: ethclient.NewClient(c),
		rpc:    c,
		url:    rawurl,
		log:    log.New("endpoint", Host(rawurl)),
	}
}

// Dial connects to the given endpoint. HTTP endpoints get a transport that
// retries failed and rate limited requests, websocket endpoints a dialer with
// the configured handshake timeout. Establishing the connection itself is
// retried with the same backoff policy.
// Dial 连接到给定的端点。HTTP 端点使用可对失败和被限速请求重试的传输层，
// websocket 端点使用带有握手超时的拨号器。建立连接本身也按相同的退避策略重试。
func Dial(ctx context.Context, rawurl string, cfg Config) (*Provider, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("invalid fork url: %w", err)
	}
	var opts []rpc.ClientOption
	if len(cfg.Headers) > 0 {
		headers := make(http.Header)
		for key, value := range cfg.Headers {
			headers.Set(key, value)
		}
		opts = append(opts, rpc.WithHeaders(headers))
	}
	switch u.Scheme {
	case "http", "https":
		client := &http.Client{Transport: newRetryTransport(http.DefaultTransport, cfg)}
		opts = append(opts, rpc.WithHTTPClient(client))
	case "ws", "wss":
		opts = append(opts, rpc.WithWebsocketDialer(websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Timeout,
		}))
	}
	var c *rpc.Client
	op := func() error {
		var err error
		c, err = rpc.DialOptions(ctx, rawurl, opts...)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Debug("Retrying fork endpoint connection", "endpoint", Host(rawurl), "err", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, newBackoff(ctx, cfg), notify); err != nil {
		return nil, err
	}
	return NewProvider(c, rawurl), nil
}

// URL returns the endpoint the provider is connected to.
func (p *Provider) URL() string {
	return p.url
}

// Host returns the host part of an endpoint url, which is safe to log and to
// persist since it omits paths and credentials that often carry api keys.
// Host 返回端点 URL 的主机部分；它不包含常常携带 API 密钥的路径和凭据，因此可以安全地记录和持久化。
func Host(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil || u.Host == "" {
		return rawurl
	}
	return u.Host
}

// newBackoff creates the bounded exponential backoff shared by dialing and the
// retrying transport.
func newBackoff(ctx context.Context, cfg Config) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Backoff
	exp.MaxElapsedTime = 0 // bounded by the retry count instead
	exp.Reset()

	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

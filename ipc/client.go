// Copyright 2018 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ipc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// client wraps the grpc.ClientConn methods the runner plugin wire
// protocol needs. Every call is a plain unary Invoke against a path
// under the fixed "RunnerPlugin" service name — there's no generated
// stub because nothing here was compiled from a .proto file, only
// encoded/decoded through Codec.
type client struct {
	conn *grpc.ClientConn
}

func dial(target string) (*client, error) {
	conn, err := grpc.Dial(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Codec.Name())),
	)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) call(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, "/runnerplugin.RunnerPlugin/"+method, req, resp)
}

func (c *client) Config(ctx context.Context) (*RemoteMetadata, error) {
	resp := &RemoteMetadata{}
	if err := c.call(ctx, "Config", &Empty{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) Match(ctx context.Context, req *MatchRequest) (*MatchResponse, error) {
	resp := &MatchResponse{}
	if err := c.call(ctx, "Match", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) Actions(ctx context.Context, req *ActionsRequest) (*ActionsResponse, error) {
	resp := &ActionsResponse{}
	if err := c.call(ctx, "Actions", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp := &RunResponse{}
	if err := c.call(ctx, "Run", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) Prepare(ctx context.Context) error {
	return c.call(ctx, "Prepare", &Empty{}, &Empty{})
}

func (c *client) Teardown(ctx context.Context) error {
	return c.call(ctx, "Teardown", &Empty{}, &Empty{})
}

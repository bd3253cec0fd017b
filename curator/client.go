package curator

import (
	"time"

	zk "github.com/QuangTung97/zksession"
)

// ClientFactory creates the zookeeper client and drives the runners with
// its session lifecycle.
type ClientFactory interface {
	Start(runners ...SessionRunner) error
	Close()
}

// Client is the subset of zk.Client used by recipes. Nodes are created with
// the ACL of the factory.
type Client interface {
	Get(path string, callback func(resp zk.GetResponse, err error))
	GetW(path string,
		callback func(resp zk.GetResponse, err error),
		watcher func(ev zk.Event),
	)

	Children(path string, callback func(resp zk.ChildrenResponse, err error))
	ChildrenW(path string,
		callback func(resp zk.ChildrenResponse, err error),
		watcher func(ev zk.Event),
	)

	ExistsW(path string,
		callback func(resp zk.ExistsResponse, err error),
		watcher func(ev zk.Event),
	)

	Create(
		path string, data []byte, flags int32,
		callback func(resp zk.CreateResponse, err error),
	)

	Set(path string, data []byte, version int32, callback func(resp zk.SetResponse, err error))

	Delete(path string, version int32, callback func(resp zk.DeleteResponse, err error))
}

const defaultSessionTimeout = 12 * time.Second

// NewClientFactory creates a factory that authenticates with the digest
// scheme and creates nodes readable and writable only by that user. With an
// empty username no credential is added and nodes are open to anyone.
func NewClientFactory(
	servers []string, username string, password string,
	options ...zk.Option,
) ClientFactory {
	return &clientFactoryImpl{
		servers:  servers,
		username: username,
		password: password,
		options:  options,
	}
}

type clientFactoryImpl struct {
	servers []string
	options []zk.Option

	username string
	password string

	zkClient *zk.Client
}

func (f *clientFactoryImpl) acl() []zk.ACL {
	if f.username == "" {
		return zk.OpenACLUnsafe
	}
	return zk.DigestACL(zk.PermAll, f.username, f.password)
}

func (f *clientFactoryImpl) Start(runners ...SessionRunner) error {
	acl := f.acl()
	runner := NewParallelRunner(runners...)

	// closed when the credential is registered, so that no request of Begin
	// is sent before it
	addAuthDone := make(chan struct{})

	options := make([]zk.Option, 0, len(f.options)+3)
	options = append(options, f.options...)
	options = append(options,
		zk.WithSessionEstablishedCallback(func(c *zk.Client) {
			<-addAuthDone
			runner.Begin(NewClient(c, acl))
		}),
		zk.WithReconnectingCallback(func(c *zk.Client) {
			runner.Retry()
		}),
		zk.WithSessionExpiredCallback(func(c *zk.Client) {
			runner.End()
		}),
	)

	zkClient, err := zk.NewClient(f.servers, defaultSessionTimeout, options...)
	if err != nil {
		return err
	}

	if f.username != "" {
		err = zkClient.AddAuth("digest", []byte(f.username+":"+f.password))
	}
	close(addAuthDone)

	if err != nil {
		zkClient.Close()
		return err
	}

	f.zkClient = zkClient
	return nil
}

func (f *clientFactoryImpl) Close() {
	if f.zkClient == nil {
		return
	}
	f.zkClient.Close()
}

type clientImpl struct {
	zkClient *zk.Client
	acl      []zk.ACL
}

// NewClient wraps a zk.Client, acl is used for every created node.
func NewClient(zkClient *zk.Client, acl []zk.ACL) Client {
	return &clientImpl{
		zkClient: zkClient,
		acl:      acl,
	}
}

func (c *clientImpl) Get(path string, callback func(resp zk.GetResponse, err error)) {
	c.zkClient.Get(path, callback)
}

func (c *clientImpl) GetW(path string,
	callback func(resp zk.GetResponse, err error),
	watcher func(ev zk.Event),
) {
	c.zkClient.Get(path, callback, zk.WithGetWatch(watcher))
}

func (c *clientImpl) Children(path string, callback func(resp zk.ChildrenResponse, err error)) {
	c.zkClient.Children(path, callback)
}

func (c *clientImpl) ChildrenW(path string,
	callback func(resp zk.ChildrenResponse, err error),
	watcher func(ev zk.Event),
) {
	c.zkClient.Children(path, callback, zk.WithChildrenWatch(watcher))
}

func (c *clientImpl) ExistsW(path string,
	callback func(resp zk.ExistsResponse, err error),
	watcher func(ev zk.Event),
) {
	c.zkClient.Exists(path, callback, zk.WithExistsWatch(watcher))
}

func (c *clientImpl) Create(
	path string, data []byte, flags int32,
	callback func(resp zk.CreateResponse, err error),
) {
	c.zkClient.Create(path, data, flags, c.acl, callback)
}

func (c *clientImpl) Set(path string, data []byte, version int32, callback func(resp zk.SetResponse, err error)) {
	c.zkClient.Set(path, data, version, callback)
}

func (c *clientImpl) Delete(path string, version int32, callback func(resp zk.DeleteResponse, err error)) {
	c.zkClient.Delete(path, version, callback)
}

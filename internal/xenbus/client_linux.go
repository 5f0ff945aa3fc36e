//go:build linux

package xenbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"

	"github.com/jcorbin/go-netfront/internal/constants"
)

const xenbusPath = "/dev/xen/xenbus"

// xsd_sockmsg types, matching <xen/io/xs_wire.h>.
const (
	xsRead             = 2
	xsWrite            = 11
	xsTransactionStart = 6
	xsTransactionEnd   = 7
	xsError            = 0
)

const sockmsgHeaderSize = 16 // type, req_id, tx_id, len — all u32

// Client is the production Store backed by /dev/xen/xenbus, speaking
// the xsd_sockmsg wire protocol directly over the character device
// rather than shelling out to xenstore-client tools.
type Client struct {
	fd int

	mu    sync.Mutex
	reqID uint32
}

// NewClient opens /dev/xen/xenbus.
func NewClient() (*Client, error) {
	fd, err := unix.Open(xenbusPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("xenbus: open %s: %w", xenbusPath, err)
	}
	return &Client{fd: fd}, nil
}

func (c *Client) Close() error { return unix.Close(c.fd) }

func (c *Client) Read(path string) (string, error) {
	return c.readTx(path, 0)
}

func (c *Client) Write(path, value string) error {
	return c.writeTx(path, value, 0)
}

func (c *Client) Transaction(fn func(tx Tx) error) error {
	operation := func() (uint32, error) {
		return c.transactionStart()
	}
	txID, err := backoff.Retry(context.Background(), operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(constants.ConnectBackendTimeout))
	if err != nil {
		return fmt.Errorf("xenbus: TRANSACTION_START: %w", err)
	}

	t := &clientTx{client: c, txID: txID}
	if err := fn(t); err != nil {
		_ = c.transactionEnd(txID, false)
		return err
	}
	return c.transactionEnd(txID, true)
}

func (c *Client) transactionStart() (uint32, error) {
	reply, err := c.roundTrip(xsTransactionStart, 0, nil)
	if err != nil {
		return 0, err
	}
	var txID uint32
	fmt.Sscanf(string(reply), "%d", &txID)
	return txID, nil
}

func (c *Client) transactionEnd(txID uint32, commit bool) error {
	payload := []byte("F\x00")
	if commit {
		payload = []byte("T\x00")
	}
	_, err := c.roundTrip(xsTransactionEnd, txID, payload)
	return err
}

func (c *Client) readTx(path string, txID uint32) (string, error) {
	payload := append([]byte(path), 0)
	reply, err := c.roundTrip(xsRead, txID, payload)
	if err != nil {
		return "", err
	}
	return string(reply), nil
}

func (c *Client) writeTx(path, value string, txID uint32) error {
	payload := append(append([]byte(path), 0), []byte(value)...)
	_, err := c.roundTrip(xsWrite, txID, payload)
	return err
}

// roundTrip sends one framed xsd_sockmsg request and returns the
// reply payload, retrying transient EAGAIN responses (the backend
// hasn't drained its queue yet) with exponential backoff. Any other
// error, including ENOENT, is returned without retrying.
func (c *Client) roundTrip(msgType, txID uint32, payload []byte) ([]byte, error) {
	c.mu.Lock()
	reqID := atomic.AddUint32(&c.reqID, 1)
	c.mu.Unlock()

	header := make([]byte, sockmsgHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], msgType)
	binary.LittleEndian.PutUint32(header[4:8], reqID)
	binary.LittleEndian.PutUint32(header[8:12], txID)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	operation := func() ([]byte, error) {
		if _, err := unix.Write(c.fd, header); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("xenbus: write header: %w", err))
		}
		if len(payload) > 0 {
			if _, err := unix.Write(c.fd, payload); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("xenbus: write payload: %w", err))
			}
		}

		replyHeader := make([]byte, sockmsgHeaderSize)
		if _, err := readFull(c.fd, replyHeader); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("xenbus: read header: %w", err))
		}
		replyType := binary.LittleEndian.Uint32(replyHeader[0:4])
		replyLen := binary.LittleEndian.Uint32(replyHeader[12:16])

		body := make([]byte, replyLen)
		if replyLen > 0 {
			if _, err := readFull(c.fd, body); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("xenbus: read body: %w", err))
			}
		}

		if replyType == xsError {
			msg := string(body)
			if msg == "EAGAIN\x00" || msg == "EAGAIN" {
				return nil, fmt.Errorf("xenbus: EAGAIN")
			}
			if msg == "ENOENT\x00" || msg == "ENOENT" {
				return nil, backoff.Permanent(ErrNoEntry)
			}
			return nil, backoff.Permanent(fmt.Errorf("xenbus: %s", msg))
		}

		return trimNUL(body), nil
	}

	return backoff.Retry(context.Background(), operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(constants.StoreRetryMaxDelay*10))
}

func readFull(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			time.Sleep(constants.StoreRetryInitialDelay)
			continue
		}
		total += n
	}
	return total, nil
}

func trimNUL(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == 0 {
		return b[:len(b)-1]
	}
	return b
}

type clientTx struct {
	client *Client
	txID   uint32
}

func (t *clientTx) Read(path string) (string, error) {
	return t.client.readTx(path, t.txID)
}

func (t *clientTx) Write(path, value string) error {
	return t.client.writeTx(path, value, t.txID)
}

var _ Store = (*Client)(nil)

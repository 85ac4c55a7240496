// lockctl sends one command to a lock over NATS and prints the lock's answer.
//
//	lockctl register ACME HQ door-1
//	lockctl --company ACME --branch HQ --device door-1 enroll --user u1 --name Ann --end 2026-12-31
//	lockctl --company ACME --branch HQ --device door-1 info
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	config "github.com/avvvet/doorlock-services/configs"
	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	nats "github.com/avvvet/doorlock-services/internal/nats"
)

type options struct {
	natsURL   string
	natsToken string
	target    models.DeviceIdentity
	timeout   time.Duration

	userId       string
	name         string
	userType     string
	end          string
	secondFinger bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	cfg := config.Load()
	var opts options

	flagSet := pflag.NewFlagSet("lockctl", pflag.ContinueOnError)
	flagSet.StringVar(&opts.natsURL, "nats", cfg.NatsURL, "NATS server URL")
	flagSet.StringVar(&opts.natsToken, "token", cfg.NatsToken, "NATS auth token")
	flagSet.StringVar(&opts.target.CompanyID, "company", "", "target company id")
	flagSet.StringVar(&opts.target.BranchID, "branch", "", "target branch id")
	flagSet.StringVar(&opts.target.DeviceCode, "device", "", "target device code (omit to talk to unregistered locks)")
	flagSet.DurationVar(&opts.timeout, "timeout", 75*time.Second, "how long to wait for the answer")
	flagSet.StringVar(&opts.userId, "user", "", "member user id")
	flagSet.StringVar(&opts.name, "name", "", "member display name")
	flagSet.StringVar(&opts.userType, "type", string(models.UserStandard), "Standard or Unlimited")
	flagSet.StringVar(&opts.end, "end", "", "subscription end date, YYYY-MM-DD")
	flagSet.BoolVar(&opts.secondFinger, "second-finger", false, "enroll a backup finger")

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		flagSet.Usage()
		return errors.New("missing command: register, enroll, delete, info, storage or reset")
	}

	requestID := uuid.NewString()
	cmd, err := buildCommand(args[0], args[1:], opts, requestID)
	if err != nil {
		return err
	}
	command, callbacks, err := subjects(opts.target, cmd)
	if err != nil {
		return err
	}

	n, err := nats.Connect(opts.natsURL, opts.natsToken, "lockctl", natsgo.RetryOnFailedConnect(false))
	if err != nil {
		return fmt.Errorf("connect %s: %w", opts.natsURL, err)
	}
	defer n.Conn.Close()

	answers := make(chan *natsgo.Msg, 32)
	for _, subject := range callbacks {
		sub, err := n.Conn.ChanSubscribe(subject, answers)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := n.Conn.Publish(command, payload); err != nil {
		return err
	}
	if err := n.Conn.Flush(); err != nil {
		return err
	}

	resp, err := await(answers, requestID, opts.timeout)
	if err != nil {
		return err
	}
	out := bytes.Buffer{}
	if err := json.Indent(&out, resp, "", "  "); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}

// buildCommand turns the command line into the document the lock expects.
func buildCommand(name string, args []string, opts options, requestID string) (map[string]any, error) {
	cmd := map[string]any{"type": name, "requestId": requestID}
	switch name {
	case comm.TypeRegisterDevice, "register":
		if len(args) != 3 {
			return nil, errors.New("register needs <companyID> <branchID> <deviceCode>")
		}
		cmd["type"] = comm.TypeRegisterDevice
		cmd["companyID"], cmd["branchID"], cmd["deviceCode"] = args[0], args[1], args[2]
	case comm.TypeEnrollUser, "enroll":
		if opts.userId == "" {
			return nil, errors.New("enroll needs --user")
		}
		cmd["type"] = comm.TypeEnrollUser
		cmd["userId"] = opts.userId
		cmd["name"] = opts.name
		cmd["userType"] = opts.userType
		if opts.end != "" {
			cmd["subscriptionEnd"] = opts.end
		}
		if opts.secondFinger {
			cmd["secondFinger"] = true
		}
	case comm.TypeDeleteUser, "delete":
		if opts.userId == "" {
			return nil, errors.New("delete needs --user")
		}
		cmd["type"] = comm.TypeDeleteUser
		cmd["userId"] = opts.userId
	case comm.TypeDeviceInfo, "info":
		cmd["type"] = comm.TypeDeviceInfo
	case comm.TypeSpiffsStatus, "storage":
		cmd["type"] = comm.TypeSpiffsStatus
	case comm.TypeResetDevice, "reset":
		cmd["type"] = comm.TypeResetDevice
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
	return cmd, nil
}

// subjects picks where to send cmd and where answers can arrive. A
// registration is answered on the new device subject.
func subjects(target models.DeviceIdentity, cmd map[string]any) (string, []string, error) {
	command, callback := comm.DefaultSubject, comm.DefaultCallback
	if target != (models.DeviceIdentity{}) {
		if !target.Complete() {
			return "", nil, errors.New("--company, --branch and --device must be given together")
		}
		command, callback = comm.CommandSubject(target), comm.CallbackSubject(target)
	}
	callbacks := []string{callback}
	if cmd["type"] == comm.TypeRegisterDevice {
		next := models.DeviceIdentity{
			CompanyID:  cmd["companyID"].(string),
			BranchID:   cmd["branchID"].(string),
			DeviceCode: cmd["deviceCode"].(string),
		}
		if next.Complete() {
			callbacks = append(callbacks, comm.CallbackSubject(next))
		}
	}
	return command, callbacks, nil
}

// await returns the first answer carrying requestID. Unrelated callbacks
// (access events, status reports) are skipped.
func await(answers <-chan *natsgo.Msg, requestID string, timeout time.Duration) ([]byte, error) {
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("no answer within %s", timeout)
		case msg := <-answers:
			env := comm.Envelope{}
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				continue
			}
			if env.RequestID == requestID {
				return msg.Data, nil
			}
		}
	}
}

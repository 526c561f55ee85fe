package session

import "io"

// Command runs a one-shot service such as "shell:ls" or "reboot:" and
// returns everything the device wrote before closing the stream.
func (s *Session) Command(destination string) ([]byte, error) {
	st, err := s.OpenStream(destination)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var out []byte
	for {
		chunk, err := st.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
}

// Shell runs a command through the device shell and returns its output.
func (s *Session) Shell(command string) (string, error) {
	out, err := s.Command("shell:" + command)
	return string(out), err
}

// StreamingCommand runs a service and hands each output chunk to fn as it
// arrives, returning once the device closes the stream. A non-nil error from
// fn closes the stream early and is returned.
func (s *Session) StreamingCommand(destination string, fn func(chunk []byte) error) error {
	st, err := s.OpenStream(destination)
	if err != nil {
		return err
	}
	defer st.Close()

	for {
		chunk, err := st.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}

// StreamingShell runs a shell command, delivering output as it is produced
// instead of collecting it. Suited to long-running commands such as logcat.
func (s *Session) StreamingShell(command string, fn func(chunk []byte) error) error {
	return s.StreamingCommand("shell:"+command, fn)
}

// Reboot asks the device to reboot. Target may be empty, "bootloader" or
// "recovery". The device drops the connection right after accepting the
// stream, so nothing is read back.
func (s *Session) Reboot(target string) error {
	st, err := s.OpenStream("reboot:" + target)
	if err != nil {
		return err
	}
	st.Close()
	return nil
}

// Package process runs a single subprocess with streamed output and a
// bounded shutdown sequence.
//
// A Process is started once and stopped at most once:
//   - Start spawns the argv with optional extra environment, optionally as
//     the leader of a new process group
//   - stdout and stderr are scanned line by line and handed to an OutputHandler
//   - Stop sends the stop signal (SIGTERM by default), waits the graceful
//     timeout, then sends SIGKILL (to the whole group when one was created)
//   - Stop is idempotent and a no-op when nothing was started
//
// Example:
//
//	p := process.NewProcessWithOutput("encoder", []string{"ffmpeg", "-i", in, out}, logger,
//	    process.OutputFunc(func(source, line string) {
//	        fmt.Println(source, line)
//	    }))
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	exitCode := p.Wait()
package process

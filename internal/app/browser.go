package app

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenURL hands the URL to the OS default browser.
func OpenURL(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	return nil
}

// ChannelURL is the public page of a channel.
func ChannelURL(channelName string) string {
	return "https://twitch.tv/" + channelName
}
